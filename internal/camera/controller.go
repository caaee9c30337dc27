package camera

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/rs/zerolog"

	"presence/internal/metrics"
)

// State is a controller lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateActive     State = "active"
	StateCapturing  State = "capturing"
	StateStopped    State = "stopped"
	StateError      State = "error"
)

// ErrNoSession is returned when a capture is attempted without an active session.
var ErrNoSession = errors.New("camera: no active session")

// Status is an observable snapshot of the controller.
type Status struct {
	State     State     `json:"state"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
}

// Session is the live handle to an acquired stream bound to a preview sink.
type Session struct {
	stream Stream
	sink   PreviewSink
}

// Geometry returns the live frame dimensions.
func (s *Session) Geometry() Geometry { return s.stream.Geometry() }

// Frame returns the current frame.
func (s *Session) Frame(ctx context.Context) (image.Image, error) { return s.stream.Frame(ctx) }

// Live reports whether any track is still running.
func (s *Session) Live() bool {
	for _, t := range s.stream.Tracks() {
		if t.Live() {
			return true
		}
	}
	return false
}

func (s *Session) release() {
	if s.sink != nil {
		s.sink.Unbind()
	}
	for _, t := range s.stream.Tracks() {
		t.Stop()
	}
}

// Controller drives Idle → Requesting → Active → (Capturing → Idle | Stopped → Idle),
// with Error reachable from Requesting and Active.
type Controller struct {
	device      Device
	sink        PreviewSink
	constraints Constraints
	log         zerolog.Logger

	mu      sync.Mutex
	state   State
	session *Session
	lastErr *DeviceError
	closed  bool
	// abandoned is set when Stop arrives while a device is still being acquired.
	abandoned bool
}

// NewController creates an idle controller. sink may be nil for headless use.
func NewController(device Device, sink PreviewSink, c Constraints, logger zerolog.Logger) *Controller {
	return &Controller{
		device:      device,
		sink:        sink,
		constraints: c,
		log:         logger.With().Str("component", "camera").Logger(),
		state:       StateIdle,
	}
}

// Start acquires the device and binds the preview. It is valid only from Idle or Error;
// in any other state it is a no-op. Failures are not returned: they leave the controller
// in Error with a classified message readable from the returned Status.
func (c *Controller) Start(ctx context.Context) Status {
	c.mu.Lock()
	if c.closed || (c.state != StateIdle && c.state != StateError) {
		st := c.statusLocked()
		c.mu.Unlock()
		c.log.Debug().Str("state", string(st.State)).Msg("start ignored")
		return st
	}
	c.state = StateRequesting
	c.lastErr = nil
	c.abandoned = false
	c.mu.Unlock()

	stream, err := c.device.Acquire(ctx, c.constraints)
	if err != nil {
		return c.fail(Classify(err))
	}

	sess := &Session{stream: stream, sink: c.sink}
	committed := false
	defer func() {
		if !committed {
			sess.release()
		}
	}()

	if c.sink != nil {
		c.sink.Bind(stream)
		if err := c.sink.Play(ctx); err != nil {
			return c.fail(&DeviceError{Kind: PlaybackFailed, Err: err})
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.statusLocked()
	}
	if c.abandoned {
		c.abandoned = false
		c.state = StateIdle
		c.log.Info().Msg("camera stopped during acquisition")
		return c.statusLocked()
	}
	c.session = sess
	c.state = StateActive
	committed = true

	g := stream.Geometry()
	metrics.CameraStarts.WithLabelValues(string(StateActive)).Inc()
	c.log.Info().Int("width", g.Width).Int("height", g.Height).Msg("camera active")
	return c.statusLocked()
}

func (c *Controller) fail(de *DeviceError) Status {
	metrics.CameraStarts.WithLabelValues(string(de.Kind)).Inc()
	c.log.Warn().Err(de).Str("kind", string(de.Kind)).Msg("camera start failed")

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
	case c.abandoned:
		c.abandoned = false
		c.state = StateIdle
	default:
		c.state = StateError
		c.lastErr = de
	}
	return c.statusLocked()
}

// Stop releases every device track and returns to Idle. Calling it without a session is a
// no-op; during acquisition the device is released as soon as Acquire returns.
func (c *Controller) Stop() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRequesting {
		c.abandoned = true
	}
	c.stopLocked()
	return c.statusLocked()
}

func (c *Controller) stopLocked() {
	if c.session == nil {
		return
	}
	c.state = StateStopped
	c.session.release()
	c.session = nil
	c.state = StateIdle
	c.log.Info().Msg("camera stopped")
}

// BeginCapture hands the active session to a capturer and moves to Capturing.
func (c *Controller) BeginCapture() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || c.session == nil {
		return nil, ErrNoSession
	}
	c.state = StateCapturing
	return c.session, nil
}

// EndCapture finishes a capture started on sess. A successful capture consumes the session; a
// failed one returns it to Active so the user can retry without re-acquiring the device.
// It reports false when sess was stopped or replaced while the frame was being taken.
func (c *Controller) EndCapture(sess *Session, captured bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCapturing || c.session != sess {
		return false
	}
	if captured {
		c.stopLocked()
		return true
	}
	c.state = StateActive
	return true
}

// Close tears the controller down, releasing any session. Later Starts are ignored and a
// device acquired concurrently with Close is released as soon as acquisition returns.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopLocked()
	c.state = StateIdle
}

// Status returns the current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	st := Status{State: c.state}
	if c.state == StateError && c.lastErr != nil {
		st.ErrorKind = c.lastErr.Kind
		st.Error = c.lastErr.Message()
	}
	if c.session != nil {
		g := c.session.Geometry()
		st.Width, st.Height = g.Width, g.Height
	}
	return st
}
