package app

import (
	"math"
	"time"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

// SignalData accumulates the readings of a session for rendering
type SignalData struct {
	TimestampStart, TimestampEnd time.Time
	LatitudeMin, LatitudeMax     float64
	LongitudeMin, LongitudeMax   float64
	Fixes                        int // Readings carrying a location
	Operators                    [survey.Slots]string
	Samples                      [survey.Slots]int // Readings carrying a dBm value, per slot
	BoundsTracker                *SmoothBounds
	Readings                     []survey.Reading
}

func NewSignalData(b *SmoothBounds) *SignalData {
	return &SignalData{
		LatitudeMin:   math.MaxFloat64,
		LatitudeMax:   -math.MaxFloat64,
		LongitudeMin:  math.MaxFloat64,
		LongitudeMax:  -math.MaxFloat64,
		BoundsTracker: b,
		Readings:      make([]survey.Reading, 0),
	}
}

func (s *SignalData) Update(r survey.Reading) {
	if s.TimestampStart.IsZero() || s.TimestampStart.After(r.Timestamp) {
		s.TimestampStart = r.Timestamp
	}
	if s.TimestampEnd.IsZero() || s.TimestampEnd.Before(r.Timestamp) {
		s.TimestampEnd = r.Timestamp
	}

	if r.Location != nil {
		s.Fixes++
		s.LatitudeMin = min(s.LatitudeMin, r.Location.Latitude)
		s.LatitudeMax = max(s.LatitudeMax, r.Location.Latitude)
		s.LongitudeMin = min(s.LongitudeMin, r.Location.Longitude)
		s.LongitudeMax = max(s.LongitudeMax, r.Location.Longitude)
	}

	for slot := 0; slot < survey.Slots; slot++ {
		sample := r.Slot(slot)

		// the last real operator name wins over placeholders
		if sample.Operator != "" && (sample.HasSignal() || s.Operators[slot] == "") {
			s.Operators[slot] = sample.Operator
		}
		if sample.HasSignal() {
			s.Samples[slot]++
		}
		s.BoundsTracker.Update(DBm(sample))
	}

	s.Readings = append(s.Readings, r)
}

// Len returns the number of readings
func (s *SignalData) Len() int {
	return len(s.Readings)
}

// Duration returns the time covered by the readings
func (s *SignalData) Duration() time.Duration {
	return s.TimestampEnd.Sub(s.TimestampStart)
}

// HasTrack returns true if at least one reading carries a location
func (s *SignalData) HasTrack() bool {
	return s.Fixes > 0
}

// DBm returns the sample power as a float, nil without data
func DBm(sample survey.SignalSample) *float64 {
	if sample.DBm == nil {
		return nil
	}

	v := float64(*sample.DBm)
	return &v
}
