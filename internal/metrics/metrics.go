package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submissions counts AttendanceSubmitter outcomes by result label.
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_submissions_total",
		Help: "Attendance submissions by outcome.",
	}, []string{"outcome"})

	Captures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_captures_total",
		Help: "Frame captures by outcome.",
	}, []string{"outcome"})

	// CapturedBytes sums encoded artifact sizes per MIME type.
	CapturedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_captured_bytes_total",
		Help: "Encoded bytes of captured artifacts by MIME type.",
	}, []string{"mime"})

	CameraStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_camera_starts_total",
		Help: "Camera start attempts by result (active or a device error kind).",
	}, []string{"result"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_notifications_total",
		Help: "Observer notifications by result.",
	}, []string{"result"})

	ProbeFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_probe_fallbacks_total",
		Help: "Environment probe resolutions that ended on a fallback marker.",
	}, []string{"field"})

	SubmitStep = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "presence_submit_step_seconds",
		Help:    "Duration of each submission step.",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})
)
