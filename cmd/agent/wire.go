package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"presence/internal/attendance"
	"presence/internal/config"
	"presence/internal/handler"
	"presence/internal/logstore"
	"presence/internal/notify"
	"presence/internal/queue"
	"presence/internal/storage"
	"presence/internal/store"
)

func openLogStore(ctx context.Context, cfg config.App, client *http.Client, health map[string]handler.HealthCheck, logger zerolog.Logger) (attendance.LogStore, func(), error) {
	var (
		db      *store.DB
		dialect logstore.Dialect
		err     error
	)
	switch cfg.LogStoreBackend {
	case "supabase":
		return logstore.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.LogTable, client), func() {}, nil
	case "sqlite":
		db, err = store.NewSQLite(ctx, cfg.SQLitePath)
		dialect = logstore.SQLite
	default:
		db, err = store.NewDB(ctx, cfg.DatabaseURL)
		dialect = logstore.Postgres
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open log store: %w", err)
	}
	closeDB := func() { _ = db.Close() }

	applied, err := logstore.Migrate(ctx, db.Client, dialect)
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("migrate log store: %w", err)
	}
	logger.Info().Str("dialect", string(dialect)).Int("applied", applied).Msg("log store ready")

	logs, err := logstore.NewSQL(db.Client, dialect)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	health["db"] = db.Healthy
	return logs, closeDB, nil
}

func openObjectStore(ctx context.Context, cfg config.App, client *http.Client) (attendance.ObjectStore, error) {
	switch cfg.StorageBackend {
	case "s3":
		return storage.NewS3(ctx, storage.S3Config{
			Endpoint:       cfg.S3Endpoint,
			Region:         cfg.S3Region,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			ForcePathStyle: cfg.S3ForcePathStyle,
			PublicBaseURL:  cfg.S3PublicBaseURL,
			Timeout:        15 * time.Second,
		})
	case "cloudinary":
		return storage.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, client), nil
	default:
		return storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, client), nil
	}
}

// openNotifier returns nil when no observer channel is configured; submissions then skip notification.
func openNotifier(cfg config.App, client *http.Client, health map[string]handler.HealthCheck, logger zerolog.Logger) (notify.Notifier, func(), error) {
	if cfg.NotifyMode == "queue" {
		var rdb *store.Redis
		if cfg.QueueBackend == "redis" {
			rdb = store.NewRedis(cfg.RedisAddr)
			health["redis"] = rdb.Healthy
		}
		qcfg := queue.Config{Backend: cfg.QueueBackend, Name: cfg.QueueName, NATSURL: cfg.NATSURL}
		if rdb != nil {
			qcfg.Redis = rdb.Client
		}
		q, closeQueue, err := queue.Open(qcfg)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		logger.Info().Str("backend", cfg.QueueBackend).Str("queue", cfg.QueueName).Msg("notifications queued for the worker")
		return notify.NewQueued(q), func() {
			closeQueue()
			_ = rdb.Close()
		}, nil
	}

	if cfg.TelegramBotToken == "" || cfg.TelegramChatID == "" {
		logger.Warn().Msg("TELEGRAM_BOT_TOKEN / TELEGRAM_CHAT_ID not set, notifications disabled")
		return nil, func() {}, nil
	}
	return newTelegram(cfg, client, logger), func() {}, nil
}

func newTelegram(cfg config.App, client *http.Client, logger zerolog.Logger) *notify.Telegram {
	loc, err := time.LoadLocation(cfg.NotifyTimezone)
	if err != nil {
		logger.Warn().Err(err).Str("timezone", cfg.NotifyTimezone).Msg("unknown timezone, using local time")
		loc = time.Local
	}
	return notify.NewTelegram(notify.TelegramConfig{
		APIURL:   cfg.TelegramAPIURL,
		BotToken: cfg.TelegramBotToken,
		ChatID:   cfg.TelegramChatID,
		Location: loc,
	}, client, logger)
}
