package telephony

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

const (
	// FormatCSQ parses AT+CSQ responses
	FormatCSQ Format = "csq"

	// FormatPlain parses lines ending with a signed dBm value
	FormatPlain Format = "plain"

	// csqUnknown is the RSSI value a modem reports when the signal is not detectable
	csqUnknown = 99
)

var (
	csqPattern   = regexp.MustCompile(`\+CSQ:\s*(\d+)\s*,\s*(\d+)`)
	plainPattern = regexp.MustCompile(`(-?\d+)\s*(?i:dbm)?\s*$`)

	validFormats = map[Format]struct{}{
		FormatCSQ:   {},
		FormatPlain: {},
	}
)

// Format names the output format of a modem command
type Format string

func (f Format) String() string {
	return string(f)
}

// Valid returns true if the format is known
func (f Format) Valid() bool {
	_, ok := validFormats[f]
	return ok
}

// Handler interface defines the methods required for reading signal strength
// from a modem subscription
type Handler interface {
	Cmd(ctx context.Context) *exec.Cmd
	Parse(line string, update func(dbm int)) error
	Format() Format
}

// handler runs an external command and parses its output in the configured format
type handler struct {
	binPath string
	args    []string
	format  Format
}

// NewHandler creates a Handler running command, whose output is parsed according to format
func NewHandler(format Format, command []string) (Handler, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("unknown format '%s'", format)
	}
	if len(command) == 0 {
		return nil, errors.New("no command given")
	}

	binPath, err := FindRuntime(command[0])
	if err != nil {
		return nil, fmt.Errorf("error finding runtime: %w", err)
	}

	return &handler{binPath: binPath, args: command[1:], format: format}, nil
}

// Cmd returns an exec.Cmd for the handler
func (h *handler) Cmd(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, h.binPath, h.args...)
}

// Parse parses a line of command output. Lines without a signal report are
// ignored.
func (h *handler) Parse(line string, update func(dbm int)) error {
	switch h.format {
	case FormatCSQ:
		return parseCSQ(line, update)
	default:
		return parsePlain(line, update)
	}
}

func (h *handler) Format() Format {
	return h.format
}

func parseCSQ(line string, update func(dbm int)) error {
	if !strings.HasPrefix(line, "+CSQ") {
		return nil // command echo, final result codes and URCs
	}

	m := csqPattern.FindStringSubmatch(line)
	if m == nil {
		return fmt.Errorf("invalid CSQ response: %q", line)
	}

	rssi, err := strconv.Atoi(m[1])
	if err != nil {
		return fmt.Errorf("invalid CSQ rssi: %w", err)
	}

	if dbm, ok := CSQToDBm(rssi); ok {
		update(dbm)
	} else {
		update(Unavailable)
	}
	return nil
}

func parsePlain(line string, update func(dbm int)) error {
	m := plainPattern.FindStringSubmatch(line)
	if m == nil {
		return fmt.Errorf("no signal value in line: %q", line)
	}

	dbm, err := strconv.Atoi(m[1])
	if err != nil {
		return fmt.Errorf("invalid signal value: %w", err)
	}

	update(dbm)
	return nil
}

// CSQToDBm converts a 3GPP TS 27.007 CSQ RSSI index into dBm. It returns
// false for the "not known or not detectable" value.
func CSQToDBm(rssi int) (int, bool) {
	switch {
	case rssi == csqUnknown:
		return 0, false
	case rssi == 0:
		return -113, true
	case rssi == 1:
		return -111, true
	case rssi >= 2 && rssi <= 30:
		return -109 + 2*(rssi-2), true
	case rssi == 31:
		return -51, true
	default:
		return 0, false
	}
}

// FindRuntime looks the command up in PATH
func FindRuntime(runtime string) (string, error) {
	binPath, err := exec.LookPath(runtime)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRuntimeNotFound, err)
	}

	return binPath, nil
}
