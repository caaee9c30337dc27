// Package station wires one attendance point: camera, capturer, environment probe and
// submitter. Every operation returns an explicit result for the UI shell to present.
package station

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"presence/internal/attendance"
	"presence/internal/camera"
	"presence/internal/capture"
	"presence/internal/environment"
)

// User-facing outcome messages.
const (
	MsgRecorded      = "Your attendance has been successfully recorded"
	MsgSubmitFailed  = "Failed to record attendance. Please try again."
	MsgInProgress    = "An attendance submission is already in progress."
	MsgCameraNotLive = "Camera is not ready. Start the camera and wait for the preview."
	MsgCaptureFailed = "Could not capture a photo. Please try again."
)

// Outcome is the result of one capture-and-submit attempt.
type Outcome struct {
	Recorded bool               `json:"recorded"`
	Message  string             `json:"message"`
	Record   *attendance.Record `json:"record,omitempty"`
	Err      error              `json:"-"`
}

// Status is everything the UI shell needs to render the page.
type Status struct {
	Camera      camera.Status        `json:"camera"`
	Environment environment.Snapshot `json:"environment"`
	Probing     bool                 `json:"probing"`
	Submitting  bool                 `json:"submitting"`
	Recorded    bool                 `json:"recorded"`
}

// Station owns the components of one attendance point.
type Station struct {
	ctrl      *camera.Controller
	capturer  *capture.Capturer
	probe     *environment.Probe
	submitter *attendance.Submitter
	log       zerolog.Logger

	mu       sync.Mutex
	snapshot environment.Snapshot
	probing  chan struct{}
}

func New(ctrl *camera.Controller, capturer *capture.Capturer, probe *environment.Probe, submitter *attendance.Submitter, logger zerolog.Logger) *Station {
	return &Station{
		ctrl:      ctrl,
		capturer:  capturer,
		probe:     probe,
		submitter: submitter,
		log:       logger.With().Str("component", "station").Logger(),
	}
}

// Mount runs the environment probe in the background. It returns a channel closed when
// the probe settles; a probe already running is reused.
func (s *Station) Mount(ctx context.Context) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.probing != nil {
		return s.probing
	}
	done := make(chan struct{})
	s.probing = done
	go func() {
		snap := s.probe.Run(ctx)
		s.mu.Lock()
		s.snapshot = snap
		s.probing = nil
		s.mu.Unlock()
		close(done)
	}()
	return done
}

// Environment returns the last settled snapshot and whether a probe is running.
func (s *Station) Environment() (environment.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.probing != nil
}

func (s *Station) StartCamera(ctx context.Context) camera.Status { return s.ctrl.Start(ctx) }

func (s *Station) StopCamera() camera.Status { return s.ctrl.Stop() }

// CaptureAndSubmit captures a photo from the live camera and submits it with the current
// snapshot. The photo is never reused: a failed submission requires a new capture.
func (s *Station) CaptureAndSubmit(ctx context.Context, id attendance.Identity) Outcome {
	if s.submitter.InFlight() {
		return Outcome{Message: MsgInProgress, Err: attendance.ErrSubmissionInProgress}
	}

	art, err := s.capturer.Capture(ctx, s.ctrl)
	if err != nil {
		msg := MsgCaptureFailed
		if errors.Is(err, capture.ErrCaptureNotReady) {
			msg = MsgCameraNotLive
		}
		return Outcome{Message: msg, Err: err}
	}

	snap, _ := s.Environment()
	rec, err := s.submitter.Submit(ctx, art, snap, id)
	if err != nil {
		if errors.Is(err, attendance.ErrSubmissionInProgress) {
			return Outcome{Message: MsgInProgress, Err: err}
		}
		s.log.Warn().Err(err).Str("identity", id.Ref).Msg("attendance not recorded")
		return Outcome{Message: MsgSubmitFailed, Err: err}
	}
	return Outcome{Recorded: true, Message: MsgRecorded, Record: &rec}
}

func (s *Station) Status() Status {
	snap, probing := s.Environment()
	return Status{
		Camera:      s.ctrl.Status(),
		Environment: snap,
		Probing:     probing,
		Submitting:  s.submitter.InFlight(),
		Recorded:    s.submitter.Recorded(),
	}
}

// Close releases the camera.
func (s *Station) Close() {
	s.ctrl.Close()
}
