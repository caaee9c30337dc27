package storage

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Cloudinary uploads images through the Cloudinary REST API. The bucket maps to a folder.
type Cloudinary struct {
	CloudName string
	APIKey    string
	APISecret string
	// APIBase defaults to https://api.cloudinary.com.
	APIBase string
	HTTP    *http.Client

	now func() time.Time
}

func NewCloudinary(cloudName, apiKey, apiSecret string, client *http.Client) *Cloudinary {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Cloudinary{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		APIBase:   "https://api.cloudinary.com",
		HTTP:      client,
		now:       time.Now,
	}
}

type cloudinaryResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Existing  bool   `json:"existing"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload sends body as a signed multipart upload with overwrite disabled.
func (c *Cloudinary) Upload(ctx context.Context, bucket, key string, body io.Reader, opts UploadOptions) error {
	params := map[string]string{
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
		"api_key":   c.APIKey,
		"public_id": publicID(key),
		"overwrite": "false",
	}
	if bucket != "" {
		params["folder"] = bucket
	}
	params["signature"] = c.sign(params)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		_ = w.WriteField(k, v)
	}
	part, err := w.CreateFormFile("file", path.Base(key))
	if err != nil {
		return fmt.Errorf("cloudinary: create form file failed: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return fmt.Errorf("cloudinary: write file failed: %w", err)
	}
	w.Close()

	url := fmt.Sprintf("%s/v1_1/%s/image/upload", strings.TrimRight(c.APIBase, "/"), c.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("cloudinary: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("cloudinary: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("cloudinary: upload failed (%d): %s", resp.StatusCode, string(raw))
	}
	var result cloudinaryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("cloudinary: decode response failed: %w", err)
	}
	if result.Existing {
		return fmt.Errorf("%w: %s/%s", ErrObjectExists, bucket, key)
	}
	return nil
}

// PublicURL is the delivery URL for an uploaded image.
func (c *Cloudinary) PublicURL(bucket, key string) string {
	id := publicID(key)
	if bucket != "" {
		id = bucket + "/" + id
	}
	return fmt.Sprintf("https://res.cloudinary.com/%s/image/upload/%s%s", c.CloudName, id, path.Ext(key))
}

func publicID(key string) string {
	return strings.TrimSuffix(key, path.Ext(key))
}

// sign computes the API signature. api_key, file and resource_type are not signed.
func (c *Cloudinary) sign(params map[string]string) string {
	excludeKeys := map[string]bool{"api_key": true, "file": true, "resource_type": true}

	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if !excludeKeys[k] && v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	payload := strings.Join(pairs, "&") + c.APISecret
	h := sha1.New()
	h.Write([]byte(payload))
	return fmt.Sprintf("%x", h.Sum(nil))
}
