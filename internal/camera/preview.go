package camera

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// ErrNoPreview is returned when no stream is bound or no frame was pulled yet.
var ErrNoPreview = errors.New("camera: no preview frame")

// LatestFrameSink is a PreviewSink that keeps the most recent frame of the bound
// stream for remote display. Play succeeds once a first frame has been pulled.
type LatestFrameSink struct {
	// MaxAge bounds how stale the cached frame may be before Latest pulls a new one.
	MaxAge time.Duration

	mu      sync.Mutex
	stream  Stream
	frame   image.Image
	fetched time.Time
}

// NewLatestFrameSink returns a sink refreshing at most once per maxAge.
func NewLatestFrameSink(maxAge time.Duration) *LatestFrameSink {
	return &LatestFrameSink{MaxAge: maxAge}
}

func (p *LatestFrameSink) Bind(s Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stream = s
	p.frame = nil
}

func (p *LatestFrameSink) Play(ctx context.Context) error {
	_, err := p.Latest(ctx)
	return err
}

func (p *LatestFrameSink) Unbind() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stream = nil
	p.frame = nil
}

// Latest returns the current preview frame, mirrored as the user expects to see it.
func (p *LatestFrameSink) Latest(ctx context.Context) (image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil, ErrNoPreview
	}
	if p.frame != nil && time.Since(p.fetched) < p.MaxAge {
		return p.frame, nil
	}
	img, err := p.stream.Frame(ctx)
	if err != nil {
		return nil, err
	}
	p.frame = imaging.FlipH(img)
	p.fetched = time.Now()
	return p.frame, nil
}
