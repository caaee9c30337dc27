package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"presence/internal/attendance"
	"presence/internal/auth"
	"presence/internal/camera"
	"presence/internal/capture"
	"presence/internal/config"
	"presence/internal/environment"
	"presence/internal/handler"
	"presence/internal/httpmiddleware"
	"presence/internal/logging"
	"presence/internal/metrics"
	"presence/internal/station"
	"presence/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := logging.New("presence-agent", cfg.Env, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("agent failed")
	}
}

func run(cfg config.App, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.Init(ctx, "presence-agent", cfg.OTLPEndpoint, logger)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	client := telemetry.HTTPClient(15 * time.Second)
	health := map[string]handler.HealthCheck{}

	logs, closeLogs, err := openLogStore(ctx, cfg, client, health, logger)
	if err != nil {
		return err
	}
	defer closeLogs()

	objects, err := openObjectStore(ctx, cfg, client)
	if err != nil {
		return err
	}

	notifier, closeNotifier, err := openNotifier(cfg, client, health, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	devices := map[camera.Facing]string{camera.FacingUser: cfg.CameraUserDevice}
	if cfg.CameraEnvironmentDevice != "" {
		devices[camera.FacingEnvironment] = cfg.CameraEnvironmentDevice
	}
	preview := camera.NewLatestFrameSink(cfg.PreviewMaxAge)
	ctrl := camera.NewController(
		camera.NewV4L2Device(devices, cfg.FFmpegPath, logger),
		preview,
		camera.DefaultConstraints(),
		logger,
	)
	capturer := capture.New(logger,
		capture.WithFormat(capture.Format(cfg.ArtifactFormat)),
		capture.OnCapture(recordArtifact),
	)

	var (
		locator  environment.Locator
		reported *environment.ReportedLocator
	)
	if cfg.GeoMode == "fixed" {
		locator = environment.FixedLocator{Coordinates: environment.Coordinates{Lat: cfg.GeoFixedLat, Lon: cfg.GeoFixedLon}}
	} else {
		reported = environment.NewReportedLocator()
		locator = reported
	}
	probe := environment.NewProbe(locator, environment.NewIPEcho(cfg.IPLookupURL, client), cfg.GeoTimeout, logger)

	submitter := attendance.NewSubmitter(objects, logs, notifier, attendance.Options{
		Bucket:        cfg.StorageBucket,
		CacheControl:  cfg.StorageCacheControl,
		NotifyTimeout: cfg.NotifyTimeout,
	}, logger)

	st := station.New(ctrl, capturer, probe, submitter, logger)
	defer st.Close()
	st.Mount(ctx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger, "/healthz", "/metrics", "/v1/camera/preview"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, func(c *gin.Context) string {
		if id := auth.IdentityFrom(c); id.Ref != "" {
			return id.Ref
		}
		return httpmiddleware.ClientIP(c)
	})

	h := &handler.Handler{
		Station:      st,
		Locator:      reported,
		Preview:      preview,
		Health:       health,
		ProbeContext: ctx,
	}
	h.Register(r, auth.RequireIdentity(cfg.JWTSigningKey, cfg.JWTIssuer), limiter.GinMiddleware())

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(r, "presence-agent"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced shutdown")
	}
	logger.Info().Msg("server exited")
	return nil
}

func requestLogger(logger zerolog.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if skipped[c.Request.URL.Path] {
			return
		}
		ev := logger.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = logger.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Strs("errors", c.Errors.Errors()).
			Msg("request")
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		// camera and geolocation are served to this origin only
		c.Header("Permissions-Policy", "camera=(self), geolocation=(self), microphone=()")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

func recordArtifact(a *capture.Artifact) {
	metrics.CapturedBytes.WithLabelValues(a.MimeType).Add(float64(a.Size()))
}
