// Package notify alerts the observer channel about recorded attendance.
package notify

import (
	"context"
	"errors"
	"time"
)

// ErrNotificationFailure wraps any failed send. Callers treat it as non-fatal.
var ErrNotificationFailure = errors.New("notify: notification failed")

// Payload is the outbound view of one attendance record.
type Payload struct {
	EmployeeID string    `json:"employee_id"`
	Name       string    `json:"name"`
	LoginTime  time.Time `json:"login_time"`
	Location   string    `json:"location"`
	IPAddress  string    `json:"ip_address"`
	PhotoURL   string    `json:"photo_url,omitempty"`
}

// Notifier delivers a payload to the observer channel.
type Notifier interface {
	Notify(ctx context.Context, p Payload) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, p Payload) error

func (f NotifierFunc) Notify(ctx context.Context, p Payload) error { return f(ctx, p) }
