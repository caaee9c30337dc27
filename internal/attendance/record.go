package attendance

import (
	"context"
	"io"
	"strings"
	"time"

	"presence/internal/notify"
	"presence/internal/storage"
)

// TimeLayout is ISO-8601 UTC with milliseconds, as stored in login_time.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Identity is the already-authenticated user submitting attendance.
type Identity struct {
	Ref  string
	Name string
}

// Valid reports whether both the reference and display name are present.
func (i Identity) Valid() bool {
	return strings.TrimSpace(i.Ref) != "" && strings.TrimSpace(i.Name) != ""
}

// Record is one append-only attendance entry.
type Record struct {
	ID         string    `json:"id"`
	EmployeeID string    `json:"employee_id"`
	Name       string    `json:"name"`
	LoginTime  time.Time `json:"login_time"`
	Location   string    `json:"location"`
	IPAddress  string    `json:"ip_address"`
	PhotoURL   string    `json:"photo_url"`
}

// LoginTimeISO formats LoginTime with TimeLayout in UTC.
func (r Record) LoginTimeISO() string {
	return r.LoginTime.UTC().Format(TimeLayout)
}

// Payload derives the notification view of the record.
func (r Record) Payload() notify.Payload {
	return notify.Payload{
		EmployeeID: r.EmployeeID,
		Name:       r.Name,
		LoginTime:  r.LoginTime,
		Location:   r.Location,
		IPAddress:  r.IPAddress,
		PhotoURL:   r.PhotoURL,
	}
}

// ObjectStore stores artifacts without overwriting.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader, opts storage.UploadOptions) error
	PublicURL(bucket, key string) string
}

// LogStore appends records.
type LogStore interface {
	Insert(ctx context.Context, r Record) error
}
