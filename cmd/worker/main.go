package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"presence/internal/config"
	"presence/internal/logging"
	"presence/internal/notify"
	"presence/internal/queue"
	"presence/internal/store"
	"presence/internal/telemetry"
)

// Worker drains queued login alerts and delivers them to the Telegram observer chat.
func main() {
	cfg := config.Load()
	logger := logging.New("presence-worker", cfg.Env, cfg.LogLevel)

	if err := cfg.ValidateWorker(); err != nil {
		logger.Fatal().Err(err).Msg("invalid worker configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.Init(ctx, "presence-worker", cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("telemetry init failed")
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	var rdb *store.Redis
	qcfg := queue.Config{Backend: cfg.QueueBackend, Name: cfg.QueueName, NATSURL: cfg.NATSURL}
	if cfg.QueueBackend == "redis" {
		rdb = store.NewRedis(cfg.RedisAddr)
		defer rdb.Close()
		if !rdb.Healthy(ctx) {
			logger.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable yet, consumer will retry")
		}
		qcfg.Redis = rdb.Client
	}
	q, closeQueue, err := queue.Open(qcfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("queue init failed")
	}
	defer closeQueue()

	loc, err := time.LoadLocation(cfg.NotifyTimezone)
	if err != nil {
		logger.Warn().Err(err).Str("timezone", cfg.NotifyTimezone).Msg("unknown timezone, using local time")
		loc = time.Local
	}
	tg := notify.NewTelegram(notify.TelegramConfig{
		APIURL:   cfg.TelegramAPIURL,
		BotToken: cfg.TelegramBotToken,
		ChatID:   cfg.TelegramChatID,
		Location: loc,
	}, telemetry.HTTPClient(15*time.Second), logger)

	go serveMetrics(ctx, ":"+cfg.HTTPPort, logger)

	logger.Info().Str("backend", cfg.QueueBackend).Str("queue", cfg.QueueName).Msg("worker started, waiting for messages")
	if err := notify.Relay(ctx, q, tg, logger); err != nil {
		logger.Fatal().Err(err).Msg("queue consume init failed")
	}
	logger.Info().Msg("worker stopped")
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server failed")
	}
}
