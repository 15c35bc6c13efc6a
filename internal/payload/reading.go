package payload

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Reading is one raw telemetry sample as the tracker encodes it.
type Reading struct {
	Latitude  uint16
	Longitude uint16
	Battery   uint8
}

// RandomReading synthesises a sample from uniformly random raw values.
func RandomReading() Reading {
	v := rand.Uint64() //nolint:gosec // synthetic telemetry, not security sensitive
	return Reading{
		Latitude:  uint16(v),
		Longitude: uint16(v >> 16),
		Battery:   uint8(v >> 32),
	}
}

// Hex encodes the reading as ten upper-case hex digits:
// latitude (4), longitude (4), battery (2).
func (r Reading) Hex() string {
	return fmt.Sprintf("%04X%04X%02X", r.Latitude, r.Longitude, r.Battery)
}

// Degrees maps the raw values onto -90..90 latitude, -180..180
// longitude and a 0..100 battery percentage.
func (r Reading) Degrees() (lat, lng, battery float64) {
	lat = float64(r.Latitude)/65535*180 - 90
	lng = float64(r.Longitude)/65535*360 - 180
	battery = float64(r.Battery) / 255 * 100
	return lat, lng, battery
}

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04:05"
)

// Timestamp formats now in loc as a YYYY-MM-DD date and HH:MM:SS clock.
// A nil loc means UTC.
func Timestamp(now time.Time, loc *time.Location) (date, clock string) {
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	return t.Format(dateLayout), t.Format(clockLayout)
}

// ClockSynced reports whether now looks like wall-clock time rather than
// an unsynchronised boot clock.
func ClockSynced(now time.Time) bool {
	return now.Year() >= 2016
}
