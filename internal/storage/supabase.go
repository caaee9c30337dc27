package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Supabase talks to the Supabase Storage REST API with a service key.
type Supabase struct {
	baseURL string
	key     string
	http    *http.Client
}

func NewSupabase(baseURL, serviceKey string, client *http.Client) *Supabase {
	if client == nil {
		client = http.DefaultClient
	}
	return &Supabase{baseURL: strings.TrimRight(baseURL, "/"), key: serviceKey, http: client}
}

// Upload stores body at bucket/key. An existing object is reported as ErrObjectExists.
func (s *Supabase) Upload(ctx context.Context, bucket, key string, body io.Reader, opts UploadOptions) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, bucket, escapeKey(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("apikey", s.key)
	req.Header.Set("x-upsert", "false")
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	if h := opts.cacheHeader(); h != "" {
		req.Header.Set("Cache-Control", h)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("supabase upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if resp.StatusCode == http.StatusConflict || strings.Contains(string(msg), "Duplicate") {
			return fmt.Errorf("%w: %s/%s", ErrObjectExists, bucket, key)
		}
		return fmt.Errorf("supabase upload failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// PublicURL is the retrieval URL of an object in a public bucket.
func (s *Supabase) PublicURL(bucket, key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, bucket, escapeKey(key))
}
