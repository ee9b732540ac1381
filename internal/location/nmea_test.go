package location

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

const (
	sentenceRMC = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
	sentenceGGA = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestParseNMEA_RMC(t *testing.T) {
	loc, ok, err := ParseNMEA(sentenceRMC, time.Now())
	if err != nil || !ok {
		t.Fatalf("Expected a fix, got ok=%v err=%v", ok, err)
	}

	if !almostEqual(loc.Latitude, 48.1173) {
		t.Errorf("Expected latitude 48.1173, got %f", loc.Latitude)
	}
	if !almostEqual(loc.Longitude, 11.516666667) {
		t.Errorf("Expected longitude 11.516667, got %f", loc.Longitude)
	}

	expected := time.Date(1994, 3, 23, 12, 35, 19, 0, time.UTC)
	if !loc.Timestamp.Equal(expected) {
		t.Errorf("Expected timestamp %s, got %s", expected, loc.Timestamp)
	}
}

func TestParseNMEA_GGA(t *testing.T) {
	now := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

	loc, ok, err := ParseNMEA(sentenceGGA, now)
	if err != nil || !ok {
		t.Fatalf("Expected a fix, got ok=%v err=%v", ok, err)
	}

	if !almostEqual(loc.Latitude, 48.1173) || !almostEqual(loc.Longitude, 11.516666667) {
		t.Errorf("Unexpected position %f,%f", loc.Latitude, loc.Longitude)
	}

	expected := time.Date(2024, 5, 1, 12, 35, 19, 0, time.UTC)
	if !loc.Timestamp.Equal(expected) {
		t.Errorf("Expected timestamp %s, got %s", expected, loc.Timestamp)
	}
}

func TestParseNMEA_NoFix(t *testing.T) {
	testCases := []struct {
		name     string
		sentence string
	}{
		{"void RMC", "$GPRMC,123519,V,,,,,,,230394,,"},
		{"GGA quality zero", "$GPGGA,123519,,,,,0,00,,,M,,M,,"},
		{"other sentence", "$GPGSV,3,1,11,03,03,111,00,04,15,270,00,06,01,010,00,13,06,292,00*74"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok, err := ParseNMEA(tc.sentence, time.Now())
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if ok {
				t.Error("Expected no fix")
			}
		})
	}
}

func TestParseNMEA_Errors(t *testing.T) {
	if _, _, err := ParseNMEA(strings.Replace(sentenceRMC, "*6A", "*00", 1), time.Now()); !errors.Is(err, ErrChecksum) {
		t.Errorf("Expected ErrChecksum, got %v", err)
	}
	if _, _, err := ParseNMEA("GPRMC,123519", time.Now()); !errors.Is(err, ErrSentence) {
		t.Errorf("Expected ErrSentence, got %v", err)
	}
	if _, _, err := ParseNMEA("$GPRMC,123519,A,48x7.038,N,01131.000,E,022.4,084.4,230394", time.Now()); !errors.Is(err, ErrSentence) {
		t.Errorf("Expected ErrSentence for bad latitude, got %v", err)
	}
}

func TestParseNMEA_Hemispheres(t *testing.T) {
	loc, ok, err := ParseNMEA("$GNRMC,083559.00,A,3351.000,S,15112.600,W,0.0,0.0,010124,,", time.Now())
	if err != nil || !ok {
		t.Fatalf("Expected a fix, got ok=%v err=%v", ok, err)
	}
	if !almostEqual(loc.Latitude, -33.85) || !almostEqual(loc.Longitude, -151.21) {
		t.Errorf("Expected -33.85,-151.21, got %f,%f", loc.Latitude, loc.Longitude)
	}
}

func TestReadNMEA_SkipsGarbage(t *testing.T) {
	input := strings.Join([]string{
		"31.000,E,022.4", // partial line on connect
		sentenceRMC,
		"$GPRMC,123519,V,,,,,,,230394,,",
		sentenceGGA,
	}, "\r\n")

	var fixes []survey.Location
	err := readNMEA(strings.NewReader(input), time.Now, func(loc survey.Location) {
		fixes = append(fixes, loc)
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(fixes) != 2 {
		t.Errorf("Expected 2 fixes, got %d", len(fixes))
	}
}
