package telephony

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"
)

const (
	// ParseErrorsThreshold defines the number of consecutive parse errors allowed
	ParseErrorsThreshold = 5
)

var (
	// ErrTooManyParseErrors is returned when the number of consecutive parse errors exceeds the threshold
	ErrTooManyParseErrors = errors.New("too many consecutive parse errors")

	// ErrBrokenPipe is returned when there's an error reading from stdout or stderr
	ErrBrokenPipe = errors.New("broken pipe")

	// ErrRuntimeNotFound is returned when a modem command is not installed
	ErrRuntimeNotFound = errors.New("runtime not found")
)

// WithModemLogger sets the logger for the modem
func WithModemLogger(logger *slog.Logger) func(m *Modem) {
	return func(m *Modem) {
		m.logger = logger.With(
			slog.Int("slot", m.slot),
			slog.String("operator", m.operator),
			slog.String("format", m.handler.Format().String()),
		)
	}
}

// WithParseErrorsThreshold sets the threshold for consecutive parse errors
func WithParseErrorsThreshold(threshold uint8) func(m *Modem) {
	return func(m *Modem) {
		m.parseErrorsThreshold = threshold
	}
}

// WithRepeatInterval makes the modem rerun its command after it exits, waiting
// interval between runs. Zero means the command is expected to stream
// indefinitely.
func WithRepeatInterval(interval time.Duration) func(m *Modem) {
	return func(m *Modem) {
		m.repeatInterval = interval
	}
}

// Modem is an active subscription in a SIM slot. It runs the handler command
// and reports every parsed signal strength to the update callback.
type Modem struct {
	slot     int
	operator string
	handler  Handler

	repeatInterval       time.Duration
	parseErrorsThreshold uint8
	logger               *slog.Logger
}

// NewModem creates a new Modem for the given slot with a discard logger
func NewModem(slot int, operator string, h Handler, options ...func(m *Modem)) *Modem {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	m := Modem{
		slot:                 slot,
		operator:             operator,
		handler:              h,
		logger:               logger,
		parseErrorsThreshold: ParseErrorsThreshold,
	}

	for _, option := range options {
		option(&m)
	}

	return &m
}

// Slot returns the SIM slot index of the subscription
func (m *Modem) Slot() int {
	return m.slot
}

// Operator returns the display name of the subscription
func (m *Modem) Operator() string {
	return m.operator
}

// Listen runs the modem command until ctx is cancelled, reporting every
// signal strength to update. It returns nil on cancellation, or when the
// command exits and no repeat interval is set.
func (m *Modem) Listen(ctx context.Context, update func(dbm int)) error {
	m.logger.Info("listening for signal strength...")
	defer m.logger.Info("stopped listening for signal strength")

	for {
		if err := m.runOnce(ctx, update); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if ctx.Err() != nil || m.repeatInterval <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.repeatInterval):
		}
	}
}

func (m *Modem) runOnce(ctx context.Context, update func(dbm int)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := m.handler.Cmd(ctx)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("error creating stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("error creating stderr pipe: %w", err)
	}

	if err = cmd.Start(); err != nil {
		return fmt.Errorf("error starting command: %w", err)
	}

	done := make(chan error, 2) // expects two results from the pipe readers

	go m.handleStdout(stdout, update, done)
	go m.handleStderr(stderr, done)

	var errs []error
	for i := 0; i < cap(done); i++ {
		if err := <-done; err != nil {
			cancel() // kills the command
			errs = append(errs, err)
		}
	}

	// pipes must be drained before Wait closes them
	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		errs = append(errs, fmt.Errorf("command exited with error: %w", err))
	}

	return errors.Join(errs...)
}

// handleStdout reads from stdout and parses signal strength reports.
func (m *Modem) handleStdout(stdout io.Reader, update func(dbm int), done chan<- error) {
	var parseErrors uint8

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := m.handler.Parse(line, update); err != nil {
			parseErrors++
			m.logger.Warn(fmt.Sprintf("error parsing signal strength: %s", err.Error()), slog.String("line", line))

			if parseErrors >= m.parseErrorsThreshold {
				done <- ErrTooManyParseErrors
				return
			}

			continue
		}

		parseErrors = 0 // reset counter
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		done <- fmt.Errorf("%w: error reading stdout: %w", ErrBrokenPipe, err)
		return
	}

	done <- nil
}

// handleStderr reads from stderr and logs it.
func (m *Modem) handleStderr(stderr io.Reader, done chan<- error) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		m.logger.Warn(fmt.Sprintf("modem >> %s", line))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		done <- fmt.Errorf("%w: error reading stderr: %w", ErrBrokenPipe, err)
		return
	}

	done <- nil
}
