package csvlog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

const (
	// TimestampLayout is the layout of the Timestamp column
	TimestampLayout = "2006-01-02 15:04:05"

	// NoSignal is written in place of a missing signal strength
	NoSignal = "N/A"

	// NoLocation is written in place of both coordinates when there is no fix
	NoLocation = "0.0"

	// Columns is the number of fields in every row
	Columns = 7
)

// Header is the fixed column header written once per file
var Header = []string{
	"Timestamp",
	"Latitude",
	"Longitude",
	"SIM1 Name",
	"SIM1 Signal Strength (dBm)",
	"SIM2 Name",
	"SIM2 Signal Strength (dBm)",
}

// ErrMalformedRow is returned when a row cannot be parsed back into a reading
var ErrMalformedRow = errors.New("malformed row")

// FormatRow renders a reading into the seven CSV fields, substituting
// sentinels for missing values.
func FormatRow(r survey.Reading) []string {
	lat, lon := NoLocation, NoLocation
	if r.Location != nil {
		lat = strconv.FormatFloat(r.Location.Latitude, 'f', 6, 64)
		lon = strconv.FormatFloat(r.Location.Longitude, 'f', 6, 64)
	}

	return []string{
		r.Timestamp.Format(TimestampLayout),
		lat,
		lon,
		r.SIM1.Operator,
		formatDBm(r.SIM1.DBm),
		r.SIM2.Operator,
		formatDBm(r.SIM2.DBm),
	}
}

func formatDBm(dbm *int) string {
	if dbm == nil {
		return NoSignal
	}
	return strconv.Itoa(*dbm)
}

// ParseRow is the inverse of FormatRow. The timestamp is interpreted in loc
// (time.Local if nil). A "0.0" coordinate pair maps back to a nil location and
// "N/A" maps back to a nil dBm.
func ParseRow(fields []string, loc *time.Location) (survey.Reading, error) {
	var r survey.Reading

	if len(fields) != Columns {
		return r, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedRow, Columns, len(fields))
	}
	if loc == nil {
		loc = time.Local
	}

	ts, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(fields[0]), loc)
	if err != nil {
		return r, fmt.Errorf("%w: invalid timestamp: %w", ErrMalformedRow, err)
	}
	r.Timestamp = ts

	if fields[1] != NoLocation || fields[2] != NoLocation {
		lat, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return r, fmt.Errorf("%w: invalid latitude: %w", ErrMalformedRow, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil {
			return r, fmt.Errorf("%w: invalid longitude: %w", ErrMalformedRow, err)
		}
		r.Location = &survey.Location{Latitude: lat, Longitude: lon}
	}

	if r.SIM1, err = parseSample(survey.SlotSIM1, fields[3], fields[4]); err != nil {
		return r, err
	}
	if r.SIM2, err = parseSample(survey.SlotSIM2, fields[5], fields[6]); err != nil {
		return r, err
	}

	return r, nil
}

func parseSample(slot int, name, dbm string) (survey.SignalSample, error) {
	s := survey.SignalSample{Slot: slot, Operator: name}

	dbm = strings.TrimSpace(dbm)
	if dbm == NoSignal {
		return s, nil
	}

	v, err := strconv.Atoi(dbm)
	if err != nil {
		return s, fmt.Errorf("%w: invalid SIM%d signal strength: %w", ErrMalformedRow, slot+1, err)
	}
	s.DBm = &v
	return s, nil
}
