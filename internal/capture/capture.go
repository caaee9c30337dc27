// Package capture turns one frame of an active camera session into an encoded artifact.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync/atomic"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"presence/internal/camera"
	"presence/internal/metrics"
)

var (
	ErrCaptureNotReady  = errors.New("capture: camera not ready")
	ErrEncodingFailure  = errors.New("capture: encoding failed")
	ErrArtifactConsumed = errors.New("capture: artifact already submitted")
)

// Quality is the fixed lossy quality factor (0.8).
const Quality = 80

// Format is the artifact encoding.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// Artifact is an immutable encoded still.
type Artifact struct {
	data     []byte
	MimeType string
	Width    int
	Height   int

	claimed atomic.Bool
}

// NewArtifact wraps an already encoded image. data is copied.
func NewArtifact(data []byte, mimeType string, width, height int) *Artifact {
	return &Artifact{data: append([]byte(nil), data...), MimeType: mimeType, Width: width, Height: height}
}

// Bytes returns a copy of the encoded payload.
func (a *Artifact) Bytes() []byte {
	out := make([]byte, len(a.data))
	copy(out, a.data)
	return out
}

func (a *Artifact) Reader() io.Reader { return bytes.NewReader(a.data) }

func (a *Artifact) Size() int { return len(a.data) }

// Extension is the file extension matching MimeType.
func (a *Artifact) Extension() string {
	if a.MimeType == "image/webp" {
		return "webp"
	}
	return "jpg"
}

// Claim marks the artifact as handed to a submission. Only the first call succeeds.
func (a *Artifact) Claim() error {
	if !a.claimed.CompareAndSwap(false, true) {
		return ErrArtifactConsumed
	}
	return nil
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithFormat selects the encoding. Unknown formats fall back to JPEG.
func WithFormat(f Format) Option {
	return func(c *Capturer) {
		if f == FormatWebP {
			c.format = FormatWebP
		}
	}
}

// OnCapture registers a hook invoked once per successful capture.
func OnCapture(fn func(*Artifact)) Option {
	return func(c *Capturer) { c.onCapture = fn }
}

// Capturer extracts, mirrors and encodes a frame from a controller's active session.
type Capturer struct {
	format    Format
	onCapture func(*Artifact)
	log       zerolog.Logger
}

func New(logger zerolog.Logger, opts ...Option) *Capturer {
	c := &Capturer{format: FormatJPEG, log: logger.With().Str("component", "capture").Logger()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capture grabs one frame. On success the controller's session is stopped; on failure
// it stays active so the user can retry without re-acquiring the device.
func (c *Capturer) Capture(ctx context.Context, ctrl *camera.Controller) (*Artifact, error) {
	sess, err := ctrl.BeginCapture()
	if err != nil {
		metrics.Captures.WithLabelValues("not_ready").Inc()
		return nil, fmt.Errorf("%w: %w", ErrCaptureNotReady, err)
	}

	art, err := c.encodeFrame(ctx, sess)
	if !ctrl.EndCapture(sess, err == nil) && err == nil {
		err = fmt.Errorf("%w: session stopped during capture", ErrCaptureNotReady)
	}
	if err != nil {
		outcome := "encoding_failure"
		if errors.Is(err, ErrCaptureNotReady) {
			outcome = "not_ready"
		}
		metrics.Captures.WithLabelValues(outcome).Inc()
		c.log.Warn().Err(err).Msg("capture failed")
		return nil, err
	}

	metrics.Captures.WithLabelValues("ok").Inc()
	c.log.Info().Int("width", art.Width).Int("height", art.Height).Int("bytes", art.Size()).Msg("frame captured")
	if c.onCapture != nil {
		c.onCapture(art)
	}
	return art, nil
}

func (c *Capturer) encodeFrame(ctx context.Context, sess *camera.Session) (*Artifact, error) {
	g := sess.Geometry()
	if !g.Ready() {
		return nil, ErrCaptureNotReady
	}
	frame, err := sess.Frame(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureNotReady, err)
	}
	if frame == nil || frame.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrEncodingFailure)
	}

	var raster image.Image = frame
	if b := frame.Bounds(); b.Dx() != g.Width || b.Dy() != g.Height {
		raster = imaging.Resize(frame, g.Width, g.Height, imaging.Lanczos)
	}
	raster = imaging.FlipH(raster)

	data, mime, err := c.encode(raster)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingFailure, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrEncodingFailure)
	}
	return &Artifact{data: data, MimeType: mime, Width: g.Width, Height: g.Height}, nil
}

func (c *Capturer) encode(img image.Image) ([]byte, string, error) {
	var buf bytes.Buffer
	switch c.format {
	case FormatWebP:
		if err := webp.Encode(&buf, img, &webp.Options{Lossless: false, Quality: Quality}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/webp", nil
	default:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(Quality)); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/jpeg", nil
	}
}
