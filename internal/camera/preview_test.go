package camera

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"
)

type countingStream struct {
	fakeStream
	frames int
}

func (s *countingStream) Frame(ctx context.Context) (image.Image, error) {
	s.frames++
	return s.fakeStream.Frame(ctx)
}

func TestLatestFrameSink(t *testing.T) {
	p := NewLatestFrameSink(time.Hour)
	if _, err := p.Latest(context.Background()); !errors.Is(err, ErrNoPreview) {
		t.Fatalf("unbound err = %v", err)
	}

	s := &countingStream{fakeStream: fakeStream{
		track: &fakeTrack{live: true},
		geo:   Geometry{Width: 8, Height: 4, MetadataLoaded: true},
	}}
	p.Bind(s)
	if err := p.Play(context.Background()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	img, err := p.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if s.frames != 1 {
		t.Errorf("frames pulled = %d, want 1 within MaxAge", s.frames)
	}
	if _, _, _, a := img.At(7, 0).RGBA(); a == 0 {
		t.Error("preview should be mirrored")
	}

	p.Unbind()
	if _, err := p.Latest(context.Background()); !errors.Is(err, ErrNoPreview) {
		t.Fatalf("after unbind err = %v", err)
	}
}
