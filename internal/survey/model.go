package survey

import (
	"time"
)

const (
	// SlotSIM1 is the first physical SIM position
	SlotSIM1 = 0

	// SlotSIM2 is the second physical SIM position
	SlotSIM2 = 1

	// Slots is the number of SIM slots tracked per reading
	Slots = 2
)

// SignalSample is the latest signal strength report for a single SIM slot.
type SignalSample struct {
	Slot     int    `json:"slot"`          // SIM slot index, 0 or 1
	Operator string `json:"operator"`      // Subscription display name
	DBm      *int   `json:"dbm,omitempty"` // Received signal power in dBm (nil if no data)
}

// HasSignal returns true if the sample carries a dBm value
func (s SignalSample) HasSignal() bool {
	return s.DBm != nil
}

// Location is the last known position of the device.
type Location struct {
	Latitude  float64   `json:"latitude"`           // WGS-84 latitude in degrees
	Longitude float64   `json:"longitude"`          // WGS-84 longitude in degrees
	Accuracy  *float64  `json:"accuracy,omitempty"` // Horizontal accuracy in meters, if known
	Timestamp time.Time `json:"time"`               // When the fix was taken
}

// Reading is a single row of the survey: one sample of both SIM slots and
// the location, taken at the same tick.
type Reading struct {
	Timestamp time.Time    `json:"timestamp"`
	Location  *Location    `json:"location,omitempty"` // nil when no fix is available
	SIM1      SignalSample `json:"sim1"`
	SIM2      SignalSample `json:"sim2"`
}

// Slot returns the sample for the given slot index
func (r *Reading) Slot(slot int) SignalSample {
	if slot == SlotSIM2 {
		return r.SIM2
	}
	return r.SIM1
}

// Session describes a single tracking run from start to stop.
type Session struct {
	ID        string    `json:"id"`               // Unique session identifier (UUID)
	StartTime time.Time `json:"startTime"`        // When tracking was started
	EndTime   time.Time `json:"endTime"`          // When tracking was stopped, zero while active
	CSVPath   string    `json:"csvPath"`          // Path of the CSV file the session writes to
	Rows      int64     `json:"rows"`             // Number of rows written
	Config    *string   `json:"config,omitempty"` // Optional tracker configuration in JSON format
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}
