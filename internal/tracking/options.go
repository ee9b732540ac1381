package tracking

import (
	"context"
	"log/slog"
	"time"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

// SignalReader returns the latest signal sample of a SIM slot
type SignalReader interface {
	CurrentReading(slot int) survey.SignalSample
}

// LocationReader returns the latest known location, if any
type LocationReader interface {
	CurrentLocation(ctx context.Context) (survey.Location, bool)
}

// Source is an asynchronous data source attached for the lifetime of a session
type Source interface {
	Start(ctx context.Context) error
	Stop()
}

// Sink receives one reading per tick
type Sink interface {
	Append(r survey.Reading) error
	Path() string
	Close() error
}

// SinkOpener opens the sink of a session started at start under root
type SinkOpener func(root string, start time.Time) (Sink, error)

// Recorder mirrors sessions and readings into secondary storage
type Recorder interface {
	CreateSession(ctx context.Context, session survey.Session) error
	StoreReading(ctx context.Context, sessionID string, r survey.Reading) error
	FinishSession(ctx context.Context, sessionID string, end time.Time, rows int64) error
}

// WakeLock keeps the host awake while tracking is running
type WakeLock interface {
	Acquire() error
	Release() error
}

// PermissionGate reports whether location and phone state may be sampled
type PermissionGate func() bool

// Ticker drives the sampling loop
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	*time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.Ticker.C
}

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{time.NewTicker(d)}
}

// WithLogger sets the logger for the controller
func WithLogger(logger *slog.Logger) func(c *Controller) {
	return func(c *Controller) {
		c.logger = logger.With(slog.String("component", "tracking"))
	}
}

// WithInterval sets the time between two ticks
func WithInterval(interval time.Duration) func(c *Controller) {
	return func(c *Controller) {
		c.interval = interval
	}
}

// WithLocationTimeout bounds the time a tick waits for the location
func WithLocationTimeout(timeout time.Duration) func(c *Controller) {
	return func(c *Controller) {
		c.locationTimeout = timeout
	}
}

// WithDataDirectory sets the directory passed to the sink opener
func WithDataDirectory(dir string) func(c *Controller) {
	return func(c *Controller) {
		c.dataDir = dir
	}
}

// WithSinkOpener replaces the CSV sink
func WithSinkOpener(open SinkOpener) func(c *Controller) {
	return func(c *Controller) {
		c.openSink = open
	}
}

// WithSources sets the data sources attached on start and detached on stop
func WithSources(sources ...Source) func(c *Controller) {
	return func(c *Controller) {
		c.sources = append(c.sources, sources...)
	}
}

// WithRecorder mirrors the session into secondary storage
func WithRecorder(r Recorder) func(c *Controller) {
	return func(c *Controller) {
		c.recorder = r
	}
}

// WithWakeLock sets the lock held while running
func WithWakeLock(l WakeLock) func(c *Controller) {
	return func(c *Controller) {
		c.wakeLock = l
	}
}

// WithPermissionGate sets the permission check performed on start
func WithPermissionGate(gate PermissionGate) func(c *Controller) {
	return func(c *Controller) {
		c.permitted = gate
	}
}

// WithDefaultOperator sets the operator name used when sampling is not permitted
func WithDefaultOperator(name string) func(c *Controller) {
	return func(c *Controller) {
		c.defaultOperator = name
	}
}

// WithStateListener registers a callback invoked after every state change.
// Listeners run synchronously and must not call Handle.
func WithStateListener(listener func(State)) func(c *Controller) {
	return func(c *Controller) {
		c.listeners = append(c.listeners, listener)
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) func(c *Controller) {
	return func(c *Controller) {
		c.now = now
	}
}

// WithTicker replaces the ticker factory
func WithTicker(newTicker func(time.Duration) Ticker) func(c *Controller) {
	return func(c *Controller) {
		c.newTicker = newTicker
	}
}
