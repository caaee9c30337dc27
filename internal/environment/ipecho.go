package environment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// IPEcho looks up the public address through an echo service answering {"ip": "..."}.
type IPEcho struct {
	url    string
	client *http.Client
}

func NewIPEcho(url string, client *http.Client) *IPEcho {
	if client == nil {
		client = http.DefaultClient
	}
	return &IPEcho{url: url, client: client}
}

// Lookup issues a single GET and returns the reported address.
func (e *IPEcho) Lookup(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ip lookup status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ip lookup: %w", err)
	}
	ip := strings.TrimSpace(out.IP)
	if net.ParseIP(ip) == nil {
		return "", errors.New("ip lookup returned no valid address")
	}
	return ip, nil
}
