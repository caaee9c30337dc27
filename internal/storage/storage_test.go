package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSupabaseUpload(t *testing.T) {
	var gotPath, gotUpsert, gotCache, gotType, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUpsert = r.Header.Get("x-upsert")
		gotCache = r.Header.Get("Cache-Control")
		gotType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte(`{"Key":"login-photos/login-42-1.jpg"}`))
	}))
	defer srv.Close()

	s := NewSupabase(srv.URL+"/", "service", srv.Client())
	err := s.Upload(context.Background(), "login-photos", "login-42-1.jpg", strings.NewReader("jpeg"),
		UploadOptions{ContentType: "image/jpeg", CacheControl: "3600"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if gotPath != "/storage/v1/object/login-photos/login-42-1.jpg" {
		t.Errorf("path = %s", gotPath)
	}
	if gotUpsert != "false" {
		t.Errorf("x-upsert = %q", gotUpsert)
	}
	if gotCache != "max-age=3600" {
		t.Errorf("cache-control = %q", gotCache)
	}
	if gotType != "image/jpeg" || gotAuth != "Bearer service" || gotBody != "jpeg" {
		t.Errorf("type=%q auth=%q body=%q", gotType, gotAuth, gotBody)
	}

	if url := s.PublicURL("login-photos", "login-42-1.jpg"); url != srv.URL+"/storage/v1/object/public/login-photos/login-42-1.jpg" {
		t.Errorf("public url = %s", url)
	}
}

func TestSupabaseUploadErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantExists bool
	}{
		{"conflict", http.StatusConflict, `{"error":"Duplicate","message":"The resource already exists"}`, true},
		{"duplicate in 400", http.StatusBadRequest, `{"statusCode":"409","error":"Duplicate"}`, true},
		{"server error", http.StatusInternalServerError, `boom`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewSupabase(srv.URL, "k", srv.Client()).Upload(context.Background(), "b", "k.jpg", strings.NewReader("x"), UploadOptions{})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrObjectExists); got != tt.wantExists {
				t.Errorf("errors.Is(ErrObjectExists) = %v, want %v (%v)", got, tt.wantExists, err)
			}
		})
	}
}

func TestCloudinaryUpload(t *testing.T) {
	var fields map[string]string
	var fileName, fileBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1_1/demo/image/upload" {
			t.Errorf("path = %s", r.URL.Path)
		}
		mr, err := r.MultipartReader()
		if err != nil {
			t.Errorf("multipart: %v", err)
			return
		}
		fields = map[string]string{}
		for {
			p, err := mr.NextPart()
			if err != nil {
				break
			}
			b, _ := io.ReadAll(p)
			if p.FormName() == "file" {
				fileName, fileBody = p.FileName(), string(b)
				continue
			}
			fields[p.FormName()] = string(b)
		}
		_, _ = w.Write([]byte(`{"public_id":"login-photos/login-42-1","secure_url":"https://x"}`))
	}))
	defer srv.Close()

	c := NewCloudinary("demo", "key", "secret", srv.Client())
	c.APIBase = srv.URL
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	if err := c.Upload(context.Background(), "login-photos", "login-42-1.jpg", strings.NewReader("jpeg"), UploadOptions{}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if fields["public_id"] != "login-42-1" || fields["folder"] != "login-photos" || fields["overwrite"] != "false" {
		t.Errorf("fields = %v", fields)
	}
	want := c.sign(map[string]string{
		"folder":    "login-photos",
		"overwrite": "false",
		"public_id": "login-42-1",
		"timestamp": "1700000000",
	})
	if fields["signature"] != want {
		t.Errorf("signature = %s, want %s", fields["signature"], want)
	}
	if fileName != "login-42-1.jpg" || fileBody != "jpeg" {
		t.Errorf("file = %s %q", fileName, fileBody)
	}
	if got := c.PublicURL("login-photos", "login-42-1.jpg"); got != "https://res.cloudinary.com/demo/image/upload/login-photos/login-42-1.jpg" {
		t.Errorf("public url = %s", got)
	}
}

func TestCloudinaryExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"public_id":"b/k","existing":true}`))
	}))
	defer srv.Close()

	c := NewCloudinary("demo", "key", "secret", srv.Client())
	c.APIBase = srv.URL
	err := c.Upload(context.Background(), "b", "k.jpg", strings.NewReader("x"), UploadOptions{})
	if !errors.Is(err, ErrObjectExists) {
		t.Fatalf("err = %v, want ErrObjectExists", err)
	}
}
