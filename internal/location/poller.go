package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

const defaultPollTimeout = 500 * time.Millisecond

// FetchFunc queries a provider for its last known location
type FetchFunc func(ctx context.Context) (survey.Location, error)

// WithPollerLogger sets the logger for the poller
func WithPollerLogger(logger *slog.Logger) func(p *Poller) {
	return func(p *Poller) {
		p.logger = logger.With(slog.String("source", "location"))
	}
}

// WithTimeout bounds the time a single query may take
func WithTimeout(timeout time.Duration) func(p *Poller) {
	return func(p *Poller) {
		p.timeout = timeout
	}
}

// Poller queries the last known location synchronously on every read. A
// query that fails or exceeds the timeout reports absent.
type Poller struct {
	fetch   FetchFunc
	timeout time.Duration
	logger  *slog.Logger
}

// NewPoller creates a Poller with a 500ms timeout
func NewPoller(fetch FetchFunc, options ...func(p *Poller)) *Poller {
	p := Poller{
		fetch:   fetch,
		timeout: defaultPollTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&p)
	}

	return &p
}

// CurrentLocation runs a single bounded query
func (p *Poller) CurrentLocation(ctx context.Context) (survey.Location, bool) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := make(chan error, 1)
	var loc survey.Location

	go func() {
		var err error
		loc, err = p.fetch(ctx)
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil {
			if !errors.Is(err, ErrNoFix) {
				p.logger.Debug(fmt.Sprintf("location query failed: %s", err.Error()))
			}
			return survey.Location{}, false
		}
		return loc, true

	case <-ctx.Done():
		p.logger.Debug("location query timed out", slog.Duration("timeout", p.timeout))
		return survey.Location{}, false
	}
}

// CommandFetcher returns a FetchFunc running command, which must print a JSON
// object with latitude and longitude, e.g. termux-location -r last.
func CommandFetcher(command []string) (FetchFunc, error) {
	if len(command) == 0 {
		return nil, errors.New("no command given")
	}

	binPath, err := exec.LookPath(command[0])
	if err != nil {
		return nil, fmt.Errorf("error finding runtime: %w", err)
	}
	args := command[1:]

	return func(ctx context.Context) (survey.Location, error) {
		out, err := exec.CommandContext(ctx, binPath, args...).Output()
		if err != nil {
			return survey.Location{}, fmt.Errorf("running location command: %w", err)
		}
		return decodeFix(out)
	}, nil
}

func decodeFix(p []byte) (survey.Location, error) {
	var msg fixMessage
	if err := json.Unmarshal(p, &msg); err != nil {
		return survey.Location{}, fmt.Errorf("decoding location: %w", err)
	}

	loc, ok := msg.location()
	if !ok {
		return survey.Location{}, ErrNoFix
	}
	return loc, nil
}
