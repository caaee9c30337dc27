package logstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"presence/internal/attendance"
)

// Supabase inserts records through the PostgREST endpoint of a Supabase project.
type Supabase struct {
	baseURL string
	key     string
	table   string
	http    *http.Client
}

func NewSupabase(baseURL, serviceKey, table string, client *http.Client) *Supabase {
	if table == "" {
		table = "login_logs"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Supabase{baseURL: strings.TrimRight(baseURL, "/"), key: serviceKey, table: table, http: client}
}

type loginLog struct {
	Name      string `json:"name"`
	LoginTime string `json:"login_time"`
	Location  string `json:"location"`
	IPAddress string `json:"ip_address"`
	PhotoURL  string `json:"photo_url"`
}

func (s *Supabase) Insert(ctx context.Context, r attendance.Record) error {
	body, err := json.Marshal(loginLog{
		Name:      r.Name,
		LoginTime: r.LoginTimeISO(),
		Location:  r.Location,
		IPAddress: r.IPAddress,
		PhotoURL:  r.PhotoURL,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/rest/v1/%s", s.baseURL, s.table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("supabase insert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("supabase insert failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
