package location

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

const defaultBaudRate = 9600

var (
	// ErrChecksum is returned for NMEA sentences with a wrong checksum
	ErrChecksum = errors.New("nmea checksum mismatch")

	// ErrSentence is returned for NMEA sentences that cannot be parsed
	ErrSentence = errors.New("invalid nmea sentence")
)

// NMEAStream reads NMEA 0183 sentences from a GPS receiver on a serial port.
type NMEAStream struct {
	port     string
	baudRate int
}

// NewNMEAStream creates a stream for the receiver on port. A zero baud rate
// selects 9600.
func NewNMEAStream(port string, baudRate int) *NMEAStream {
	if baudRate <= 0 {
		baudRate = defaultBaudRate
	}
	return &NMEAStream{port: port, baudRate: baudRate}
}

func (s *NMEAStream) Name() string {
	return "nmea:" + s.port
}

// Run opens the serial port and reports every valid fix until ctx is cancelled.
func (s *NMEAStream) Run(ctx context.Context, update func(survey.Location)) error {
	port, err := serial.Open(s.port, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return fmt.Errorf("opening serial port '%s': %w", s.port, err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = port.Close() // unblocks the pending read
	})
	defer func() {
		if stop() {
			_ = port.Close()
		}
	}()

	if err = readNMEA(port, time.Now, update); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading serial port '%s': %w", s.port, err)
	}
	return nil
}

// readNMEA scans sentences from r until EOF. Malformed sentences are skipped,
// receivers emit partial lines on connect.
func readNMEA(r io.Reader, now func() time.Time, update func(survey.Location)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		loc, ok, err := ParseNMEA(scanner.Text(), now())
		if err != nil || !ok {
			continue
		}
		update(loc)
	}
	return scanner.Err()
}

// ParseNMEA parses a single RMC or GGA sentence. It returns false for other
// sentence types and for sentences reporting no fix. GGA carries no date, so
// it is taken from now.
func ParseNMEA(sentence string, now time.Time) (survey.Location, bool, error) {
	var loc survey.Location

	body, err := verifyChecksum(strings.TrimSpace(sentence))
	if err != nil {
		return loc, false, err
	}

	fields := strings.Split(body, ",")
	if len(fields[0]) < 5 {
		return loc, false, fmt.Errorf("%w: missing talker: %q", ErrSentence, sentence)
	}

	switch fields[0][2:] {
	case "RMC":
		// hhmmss.ss,A,llll.ll,a,yyyyy.yy,a,x.x,x.x,ddmmyy
		if len(fields) < 10 {
			return loc, false, fmt.Errorf("%w: short RMC: %q", ErrSentence, sentence)
		}
		if fields[2] != "A" {
			return loc, false, nil // void
		}
		if loc.Latitude, loc.Longitude, err = parseCoordinates(fields[3], fields[4], fields[5], fields[6]); err != nil {
			return loc, false, err
		}
		loc.Timestamp = parseTime(fields[9], fields[1], now)

	case "GGA":
		// hhmmss.ss,llll.ll,a,yyyyy.yy,a,q,nn,h.h,...
		if len(fields) < 7 {
			return loc, false, fmt.Errorf("%w: short GGA: %q", ErrSentence, sentence)
		}
		if fields[6] == "" || fields[6] == "0" {
			return loc, false, nil // no fix
		}
		if loc.Latitude, loc.Longitude, err = parseCoordinates(fields[2], fields[3], fields[4], fields[5]); err != nil {
			return loc, false, err
		}
		loc.Timestamp = parseTime("", fields[1], now)

	default:
		return loc, false, nil
	}

	return loc, true, nil
}

func verifyChecksum(sentence string) (string, error) {
	if !strings.HasPrefix(sentence, "$") {
		return "", fmt.Errorf("%w: %q", ErrSentence, sentence)
	}

	body, sum, found := strings.Cut(sentence[1:], "*")
	if !found {
		return body, nil // checksum is optional
	}

	expected, err := strconv.ParseUint(sum, 16, 8)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrChecksum, sum)
	}

	var actual byte
	for i := 0; i < len(body); i++ {
		actual ^= body[i]
	}
	if actual != byte(expected) {
		return "", fmt.Errorf("%w: expected %02X, got %02X", ErrChecksum, expected, actual)
	}

	return body, nil
}

func parseCoordinates(lat, latHemi, lon, lonHemi string) (float64, float64, error) {
	latitude, err := parseDegrees(lat, 2)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: latitude: %w", ErrSentence, err)
	}
	longitude, err := parseDegrees(lon, 3)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: longitude: %w", ErrSentence, err)
	}

	if latHemi == "S" {
		latitude = -latitude
	}
	if lonHemi == "W" {
		longitude = -longitude
	}
	return latitude, longitude, nil
}

// parseDegrees converts (d)ddmm.mmmm into decimal degrees
func parseDegrees(value string, degreeDigits int) (float64, error) {
	if len(value) < degreeDigits+2 {
		return 0, fmt.Errorf("too short: %q", value)
	}

	degrees, err := strconv.Atoi(value[:degreeDigits])
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.ParseFloat(value[degreeDigits:], 64)
	if err != nil {
		return 0, err
	}
	if minutes >= 60 {
		return 0, fmt.Errorf("minutes out of range: %q", value)
	}

	return float64(degrees) + minutes/60, nil
}

func parseTime(date, clock string, now time.Time) time.Time {
	now = now.UTC()

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if d, err := time.Parse("020106", date); err == nil {
		day = d
	}

	if len(clock) < 6 {
		return now
	}
	t, err := time.Parse("150405", clock[:6])
	if err != nil {
		return now
	}

	return day.Add(time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second)
}
