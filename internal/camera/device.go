// Package camera owns the lifecycle of a single capture session: device acquisition,
// preview binding, and guaranteed release.
//
// A Controller is the only owner of the live Session. Devices and preview sinks are
// collaborators supplied by the caller, so the state machine is the same whether the
// frames come from a V4L2 node through ffmpeg or from a test double.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// Facing selects a front or rear sensor.
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// Constraints describe the requested stream. Audio is never requested.
type Constraints struct {
	IdealWidth  int
	IdealHeight int
	MaxWidth    int
	MaxHeight   int
	// Facing is a preference list; the first facing the device can satisfy wins.
	Facing []Facing
}

// DefaultConstraints asks for 1080p, capped at 4K, preferring the user-facing sensor.
func DefaultConstraints() Constraints {
	return Constraints{
		IdealWidth:  1920,
		IdealHeight: 1080,
		MaxWidth:    3840,
		MaxHeight:   2160,
		Facing:      []Facing{FacingUser, FacingEnvironment},
	}
}

// Geometry is the live frame size. Ready is false until stream metadata has loaded.
type Geometry struct {
	Width          int
	Height         int
	MetadataLoaded bool
}

// Ready reports whether a frame can be captured at this geometry.
func (g Geometry) Ready() bool {
	return g.MetadataLoaded && g.Width > 0 && g.Height > 0
}

// Track is one media track of an acquired stream.
type Track interface {
	Stop()
	Live() bool
}

// Stream is an acquired device stream.
type Stream interface {
	Tracks() []Track
	Geometry() Geometry
	Frame(ctx context.Context) (image.Image, error)
}

// Device acquires streams.
type Device interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// PreviewSink displays a bound stream.
type PreviewSink interface {
	Bind(s Stream)
	Play(ctx context.Context) error
	Unbind()
}

// ErrorKind classifies device failures.
type ErrorKind string

const (
	PermissionDenied ErrorKind = "permission_denied"
	DeviceNotFound   ErrorKind = "device_not_found"
	Overconstrained  ErrorKind = "overconstrained"
	UnknownDevice    ErrorKind = "unknown_device"
	PlaybackFailed   ErrorKind = "playback_failed"
	Unexpected       ErrorKind = "unexpected"
)

// DeviceError is a classified device failure. Devices return it from Acquire; the
// controller records it in its status.
type DeviceError struct {
	Kind ErrorKind
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Message is the text shown to the user for this failure.
func (e *DeviceError) Message() string {
	switch e.Kind {
	case PermissionDenied:
		return "Camera access was denied. Please grant camera permissions."
	case DeviceNotFound:
		return "No camera found on this device."
	case Overconstrained:
		return "Camera constraints are too specific. Try a different camera mode."
	case UnknownDevice:
		return fmt.Sprintf("Camera error: %v", e.Err)
	case PlaybackFailed:
		return fmt.Sprintf("Failed to play video: %v", e.Err)
	default:
		return "An unexpected error occurred while accessing the camera."
	}
}

// Classify turns any acquisition failure into a DeviceError. Errors that are not
// DeviceErrors are treated as unexpected.
func Classify(err error) *DeviceError {
	var de *DeviceError
	if errors.As(err, &de) {
		return de
	}
	return &DeviceError{Kind: Unexpected, Err: err}
}
