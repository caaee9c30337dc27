// Package handler exposes a station to the UI shell over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presence/internal/attendance"
	"presence/internal/auth"
	"presence/internal/camera"
	"presence/internal/environment"
	"presence/internal/station"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Handler serves the attendance point API.
type Handler struct {
	Station *station.Station
	// Locator receives device fixes from the shell; nil when the position is fixed.
	Locator *environment.ReportedLocator
	// Preview serves live frames; nil disables GET /v1/camera/preview.
	Preview *camera.LatestFrameSink
	Health  map[string]HealthCheck
	// ProbeContext is the lifetime given to probes started by requests.
	ProbeContext context.Context
}

// Register mounts all routes. protected runs in front of the attendance routes.
func (h *Handler) Register(r *gin.Engine, protected ...gin.HandlerFunc) {
	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/environment", h.environment)
	v1.POST("/environment/probe", h.reprobe)
	v1.POST("/environment/location", h.reportLocation)

	v1.GET("/camera", h.cameraStatus)
	v1.POST("/camera/start", h.startCamera)
	v1.POST("/camera/stop", h.stopCamera)
	v1.GET("/camera/preview", h.preview)

	att := v1.Group("/attendance", protected...)
	att.POST("", h.submit)
	att.GET("/status", h.status)
}

func (h *Handler) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (h *Handler) environment(c *gin.Context) {
	snap, probing := h.Station.Environment()
	c.JSON(http.StatusOK, gin.H{
		"location":    snap.Location,
		"ip_address":  snap.IPAddress,
		"resolved_at": snap.ResolvedAt,
		"settled":     snap.Settled(),
		"degraded":    snap.Degraded(),
		"probing":     probing,
	})
}

func (h *Handler) reprobe(c *gin.Context) {
	ctx := h.ProbeContext
	if ctx == nil {
		ctx = context.Background()
	}
	h.Station.Mount(ctx)
	c.JSON(http.StatusAccepted, gin.H{"probing": true})
}

func (h *Handler) reportLocation(c *gin.Context) {
	if h.Locator == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "location is fixed on this station"})
		return
	}
	var req struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Error     string   `json:"error"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Error != "" {
		h.Locator.Fail(errors.New(req.Error))
		c.Status(http.StatusNoContent)
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "latitude and longitude required"})
		return
	}
	if err := h.Locator.Report(environment.Coordinates{Lat: *req.Latitude, Lon: *req.Longitude}); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) cameraStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Station.Status().Camera)
}

func (h *Handler) startCamera(c *gin.Context) {
	st := h.Station.StartCamera(c.Request.Context())
	code := http.StatusOK
	if st.State == camera.StateError {
		code = http.StatusConflict
	}
	c.JSON(code, st)
}

func (h *Handler) stopCamera(c *gin.Context) {
	c.JSON(http.StatusOK, h.Station.StopCamera())
}

func (h *Handler) preview(c *gin.Context) {
	if h.Preview == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "preview disabled"})
		return
	}
	img, err := h.Preview.Latest(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Type", "image/jpeg")
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	if err := imaging.Encode(c.Writer, img, imaging.JPEG, imaging.JPEGQuality(70)); err != nil {
		_ = c.Error(err)
	}
}

func (h *Handler) submit(c *gin.Context) {
	out := h.Station.CaptureAndSubmit(c.Request.Context(), auth.IdentityFrom(c))
	code := http.StatusCreated
	switch {
	case out.Recorded:
	case errors.Is(out.Err, attendance.ErrSubmissionInProgress):
		code = http.StatusConflict
	case errors.Is(out.Err, attendance.ErrAuthenticationRequired):
		code = http.StatusUnauthorized
	case errors.Is(out.Err, attendance.ErrEnvironmentUnavailable):
		code = http.StatusPreconditionFailed
	case errors.Is(out.Err, attendance.ErrUploadFailure), errors.Is(out.Err, attendance.ErrRecordPersistFailure):
		code = http.StatusBadGateway
	default:
		code = http.StatusConflict
	}
	if out.Err != nil {
		_ = c.Error(out.Err)
	}
	c.JSON(code, out)
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.Station.Status())
}
