package environment

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLocationDenied is reported when the device refused to share its position.
var ErrLocationDenied = errors.New("environment: location permission denied")

// Locator produces a one-shot position fix.
type Locator interface {
	Locate(ctx context.Context) (Coordinates, error)
}

// FixedLocator returns configured coordinates, for stationary kiosks.
type FixedLocator struct {
	Coordinates Coordinates
}

func (f FixedLocator) Locate(context.Context) (Coordinates, error) {
	if !f.Coordinates.Valid() {
		return Coordinates{}, fmt.Errorf("environment: fixed coordinates out of range: %s", f.Coordinates)
	}
	return f.Coordinates, nil
}

type report struct {
	seq    uint64
	coords Coordinates
	err    error
}

// ReportedLocator waits for the UI shell to report a fix. Only reports that arrive after
// Locate was called are accepted, so a cached position is never reused.
type ReportedLocator struct {
	mu      sync.Mutex
	last    report
	changed chan struct{}
}

func NewReportedLocator() *ReportedLocator {
	return &ReportedLocator{changed: make(chan struct{})}
}

// Report publishes a fix from the device.
func (r *ReportedLocator) Report(c Coordinates) error {
	if !c.Valid() {
		return fmt.Errorf("environment: coordinates out of range: %s", c)
	}
	r.publish(report{coords: c})
	return nil
}

// Fail publishes a device-side failure such as a permission denial.
func (r *ReportedLocator) Fail(err error) {
	if err == nil {
		err = ErrLocationDenied
	}
	r.publish(report{err: err})
}

func (r *ReportedLocator) publish(rep report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep.seq = r.last.seq + 1
	r.last = rep
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *ReportedLocator) Locate(ctx context.Context) (Coordinates, error) {
	r.mu.Lock()
	since := r.last.seq
	r.mu.Unlock()

	for {
		r.mu.Lock()
		last, wait := r.last, r.changed
		r.mu.Unlock()

		if last.seq > since {
			return last.coords, last.err
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return Coordinates{}, ctx.Err()
		}
	}
}
