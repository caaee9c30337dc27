package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
)

// V4L2Device acquires Linux video nodes and grabs frames through ffmpeg.
type V4L2Device struct {
	paths  map[Facing]string
	ffmpeg string
	log    zerolog.Logger
}

// NewV4L2Device maps facing modes to device nodes, e.g. user → /dev/video0.
func NewV4L2Device(paths map[Facing]string, ffmpegPath string, logger zerolog.Logger) *V4L2Device {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &V4L2Device{paths: paths, ffmpeg: ffmpegPath, log: logger.With().Str("component", "v4l2").Logger()}
}

type size struct{ w, h int }

// fallbackSizes are tried in order after the ideal size is refused.
var fallbackSizes = []size{{1280, 720}, {640, 480}}

// Acquire opens the first node matching the facing preference and negotiates the
// largest frame size ffmpeg accepts within the constraint envelope.
func (d *V4L2Device) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	path, err := d.pick(c.Facing)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return nil, &DeviceError{Kind: PermissionDenied, Err: err}
		case errors.Is(err, fs.ErrNotExist):
			return nil, &DeviceError{Kind: DeviceNotFound, Err: err}
		default:
			return nil, &DeviceError{Kind: UnknownDevice, Err: err}
		}
	}

	var lastErr error
	for _, sz := range candidateSizes(c) {
		img, err := grabFrame(ctx, d.ffmpeg, path, sz)
		if err != nil {
			if ctx.Err() != nil {
				_ = f.Close()
				return nil, &DeviceError{Kind: UnknownDevice, Err: ctx.Err()}
			}
			d.log.Debug().Err(err).Int("width", sz.w).Int("height", sz.h).Msg("size refused")
			lastErr = err
			continue
		}
		b := img.Bounds()
		s := &v4l2Stream{
			ffmpeg: d.ffmpeg,
			path:   path,
			size:   sz,
			track:  &fileTrack{f: f},
			geometry: Geometry{
				Width:          b.Dx(),
				Height:         b.Dy(),
				MetadataLoaded: true,
			},
		}
		s.track.live.Store(true)
		d.log.Info().Str("device", path).Int("width", b.Dx()).Int("height", b.Dy()).Msg("device acquired")
		return s, nil
	}

	_ = f.Close()
	return nil, &DeviceError{Kind: Overconstrained, Err: lastErr}
}

func (d *V4L2Device) pick(prefs []Facing) (string, error) {
	var statErr error
	for _, facing := range prefs {
		path := d.paths[facing]
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			statErr = err
			continue
		}
		return path, nil
	}
	if statErr == nil {
		statErr = errors.New("no device configured for the requested facing modes")
	}
	return "", &DeviceError{Kind: DeviceNotFound, Err: statErr}
}

func candidateSizes(c Constraints) []size {
	fits := func(s size) bool {
		return (c.MaxWidth <= 0 || s.w <= c.MaxWidth) && (c.MaxHeight <= 0 || s.h <= c.MaxHeight)
	}
	var out []size
	ideal := size{c.IdealWidth, c.IdealHeight}
	if ideal.w > 0 && ideal.h > 0 && fits(ideal) {
		out = append(out, ideal)
	}
	for _, s := range fallbackSizes {
		if fits(s) && (len(out) == 0 || s != out[0]) {
			out = append(out, s)
		}
	}
	return out
}

// grabFrame captures one MJPEG frame from a V4L2 node.
func grabFrame(ctx context.Context, ffmpeg, path string, sz size) (image.Image, error) {
	cmd := exec.CommandContext(ctx,
		ffmpeg,
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", sz.w, sz.h),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg %s: %w (%s)", path, err, strings.TrimSpace(stderr.String()))
	}
	img, err := imaging.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

type fileTrack struct {
	f    *os.File
	live atomic.Bool
	once sync.Once
}

func (t *fileTrack) Stop() {
	t.once.Do(func() {
		t.live.Store(false)
		_ = t.f.Close()
	})
}

func (t *fileTrack) Live() bool { return t.live.Load() }

type v4l2Stream struct {
	ffmpeg   string
	path     string
	size     size
	track    *fileTrack
	geometry Geometry

	mu sync.Mutex
}

func (s *v4l2Stream) Tracks() []Track { return []Track{s.track} }

func (s *v4l2Stream) Geometry() Geometry { return s.geometry }

func (s *v4l2Stream) Frame(ctx context.Context) (image.Image, error) {
	if !s.track.Live() {
		return nil, errors.New("stream stopped")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return grabFrame(ctx, s.ffmpeg, s.path, s.size)
}
