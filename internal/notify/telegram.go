package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"presence/internal/metrics"
)

// TelegramConfig addresses one bot and one fixed chat.
type TelegramConfig struct {
	APIURL   string
	BotToken string
	ChatID   string
	// Location renders the login time; nil means time.Local.
	Location *time.Location
}

// Telegram sends the alert text and then, if a photo URL is present, the photo.
type Telegram struct {
	cfg  TelegramConfig
	http *http.Client
	log  zerolog.Logger
}

func NewTelegram(cfg TelegramConfig, client *http.Client, logger zerolog.Logger) *Telegram {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.telegram.org"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Telegram{cfg: cfg, http: client, log: logger.With().Str("component", "telegram").Logger()}
}

// Notify performs both sends independently; a failure of one does not skip the other.
func (t *Telegram) Notify(ctx context.Context, p Payload) error {
	var errs []error

	if err := t.call(ctx, "sendMessage", map[string]string{
		"chat_id":    t.cfg.ChatID,
		"text":       t.Message(p),
		"parse_mode": "HTML",
	}); err != nil {
		t.log.Error().Err(err).Str("identity", p.EmployeeID).Msg("send alert text failed")
		errs = append(errs, err)
	}

	if p.PhotoURL != "" {
		if err := t.call(ctx, "sendPhoto", map[string]string{
			"chat_id": t.cfg.ChatID,
			"photo":   p.PhotoURL,
			"caption": "📸 Login photo of " + p.Name,
		}); err != nil {
			t.log.Error().Err(err).Str("identity", p.EmployeeID).Msg("send alert photo failed")
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		metrics.Notifications.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %w", ErrNotificationFailure, errors.Join(errs...))
	}
	metrics.Notifications.WithLabelValues("sent").Inc()
	return nil
}

// Message renders the HTML alert body.
func (t *Telegram) Message(p Payload) string {
	var b strings.Builder
	b.WriteString("🔔 New Login Alert!\n\n")
	fmt.Fprintf(&b, "👤 Employee: %s (ID: %s)\n", html.EscapeString(p.Name), html.EscapeString(p.EmployeeID))
	fmt.Fprintf(&b, "⏰ Time: %s\n", p.LoginTime.In(t.cfg.Location).Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "📍 Location: %s\n", html.EscapeString(p.Location))
	fmt.Fprintf(&b, "🌐 IP: %s\n", html.EscapeString(p.IPAddress))
	return b.String()
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) call(ctx context.Context, method string, body map[string]string) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/%s", t.cfg.APIURL, t.cfg.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		// the URL embeds the bot token; keep it out of logs
		var uerr *neturl.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("%s: %w", method, uerr.Err)
		}
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var out telegramResponse
	_ = json.Unmarshal(data, &out)
	if resp.StatusCode >= 300 || !out.OK {
		return fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, out.Description)
	}
	return nil
}
