// Package environment resolves where an attendance attempt happens: a geolocation fix
// and the public network address, each falling back to a marker on failure.
package environment

import (
	"strconv"
	"time"
)

// Fallback markers stored in place of a reading that could not be resolved.
const (
	LocationUnavailable = "Location not available"
	AddressUnavailable  = "IP not available"
)

// Snapshot is one combined probe result.
type Snapshot struct {
	Location   string    `json:"location"`
	IPAddress  string    `json:"ip_address"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Settled reports whether both resolutions have finished.
func (s Snapshot) Settled() bool { return !s.ResolvedAt.IsZero() }

// Degraded reports whether either field is a fallback marker or still unresolved.
func (s Snapshot) Degraded() bool {
	return s.Location == "" || s.Location == LocationUnavailable ||
		s.IPAddress == "" || s.IPAddress == AddressUnavailable
}

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// String formats the pair as "<lat>, <lon>" using the shortest exact decimal form.
func (c Coordinates) String() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + ", " + strconv.FormatFloat(c.Lon, 'f', -1, 64)
}

// Valid reports whether the pair is within WGS84 bounds.
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}
