package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "test-key")
	t.Setenv("STORAGE_BUCKET", "")
	t.Setenv("GEO_TIMEOUT", "")

	cfg := Load()
	if cfg.StorageBucket != "login-photos" {
		t.Errorf("StorageBucket = %q, want login-photos", cfg.StorageBucket)
	}
	if cfg.StorageCacheControl != "3600" {
		t.Errorf("StorageCacheControl = %q, want 3600", cfg.StorageCacheControl)
	}
	if cfg.GeoTimeout != 5*time.Second {
		t.Errorf("GeoTimeout = %s, want 5s", cfg.GeoTimeout)
	}
	if cfg.IPLookupURL != "https://api.ipify.org?format=json" {
		t.Errorf("IPLookupURL = %q", cfg.IPLookupURL)
	}
}

func TestLoadParsesTypedValues(t *testing.T) {
	t.Setenv("GEO_TIMEOUT", "2500ms")
	t.Setenv("GEO_FIXED_LAT", "12.9")
	t.Setenv("S3_FORCE_PATH_STYLE", "false")
	t.Setenv("RATE_LIMIT_PER_MIN", "7")
	t.Setenv("SUPABASE_URL", "https://example.supabase.co/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://kiosk.example, ,http://localhost:3000")

	cfg := Load()
	if cfg.GeoTimeout != 2500*time.Millisecond {
		t.Errorf("GeoTimeout = %s", cfg.GeoTimeout)
	}
	if cfg.GeoFixedLat != 12.9 {
		t.Errorf("GeoFixedLat = %v", cfg.GeoFixedLat)
	}
	if cfg.S3ForcePathStyle {
		t.Error("S3ForcePathStyle should be false")
	}
	if cfg.RateLimitPerMin != 7 {
		t.Errorf("RateLimitPerMin = %d", cfg.RateLimitPerMin)
	}
	if cfg.SupabaseURL != "https://example.supabase.co" {
		t.Errorf("SupabaseURL = %q, want trailing slash trimmed", cfg.SupabaseURL)
	}
	if got := strings.Join(cfg.CORSOrigins, "|"); got != "https://kiosk.example|http://localhost:3000" {
		t.Errorf("CORSOrigins = %q", got)
	}
}

func TestValidate(t *testing.T) {
	base := App{
		JWTSigningKey:      "k",
		LogStoreBackend:    "sqlite",
		SQLitePath:         "./x.db",
		StorageBackend:     "supabase",
		SupabaseURL:        "https://example.supabase.co",
		SupabaseServiceKey: "service",
		NotifyMode:         "direct",
		QueueBackend:       "memory",
		GeoMode:            "reported",
		GeoTimeout:         5 * time.Second,
		ArtifactFormat:     "jpeg",
	}

	tests := []struct {
		name    string
		mutate  func(*App)
		wantErr string
	}{
		{name: "valid", mutate: func(*App) {}},
		{name: "missing signing key", mutate: func(a *App) { a.JWTSigningKey = "" }, wantErr: "JWT_SIGNING_KEY"},
		{name: "unknown storage", mutate: func(a *App) { a.StorageBackend = "ftp" }, wantErr: "STORAGE_BACKEND"},
		{name: "s3 without public url", mutate: func(a *App) {
			a.StorageBackend = "s3"
			a.S3Endpoint, a.S3AccessKey, a.S3SecretKey = "minio:9000", "a", "b"
		}, wantErr: "S3_PUBLIC_BASE_URL"},
		{name: "queued notify on memory queue", mutate: func(a *App) { a.NotifyMode = "queue" }, wantErr: "shared queue"},
		{name: "bad artifact format", mutate: func(a *App) { a.ArtifactFormat = "png" }, wantErr: "ARTIFACT_FORMAT"},
		{name: "zero geo timeout", mutate: func(a *App) { a.GeoTimeout = 0 }, wantErr: "GEO_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateWorker(t *testing.T) {
	base := App{
		QueueBackend:     "redis",
		RedisAddr:        "localhost:6379",
		NATSURL:          "nats://localhost:4222",
		TelegramBotToken: "bot",
		TelegramChatID:   "-100",
	}

	tests := []struct {
		name    string
		mutate  func(*App)
		wantErr string
	}{
		{name: "redis", mutate: func(*App) {}},
		{name: "nats", mutate: func(a *App) { a.QueueBackend = "nats" }},
		{name: "memory queue", mutate: func(a *App) { a.QueueBackend = "memory" }, wantErr: "QUEUE_BACKEND=memory"},
		{name: "unknown queue", mutate: func(a *App) { a.QueueBackend = "kafka" }, wantErr: "unknown QUEUE_BACKEND"},
		{name: "redis without addr", mutate: func(a *App) { a.RedisAddr = "" }, wantErr: "REDIS_ADDR"},
		{name: "missing chat", mutate: func(a *App) { a.TelegramChatID = "" }, wantErr: "TELEGRAM_CHAT_ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.ValidateWorker()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
