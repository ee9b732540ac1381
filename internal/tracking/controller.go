package tracking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roman-kulish/dbm-tracker/internal/csvlog"
	"github.com/roman-kulish/dbm-tracker/internal/survey"
	"github.com/roman-kulish/dbm-tracker/internal/telephony"
)

const (
	// DefaultInterval is the time between two samples
	DefaultInterval = 2 * time.Second

	// DefaultLocationTimeout bounds a single location query
	DefaultLocationTimeout = 500 * time.Millisecond

	recorderTimeout = 2 * time.Second
)

// ErrPermissionDenied is logged when sampling is not permitted on start
var ErrPermissionDenied = errors.New("location or phone state permission denied")

// Stats describes the current session
type Stats struct {
	SessionID string `json:"sessionId,omitempty"`
	CSVPath   string `json:"csvPath,omitempty"`
	Rows      int64  `json:"rows"`
	Failures  int64  `json:"failures"`
}

// Controller runs a single tracking session. It samples both SIM slots and
// the location on every tick and appends one row to the sink while Running.
type Controller struct {
	signals   SignalReader
	locations LocationReader
	sources   []Source

	openSink        SinkOpener
	dataDir         string
	recorder        Recorder
	wakeLock        WakeLock
	permitted       PermissionGate
	defaultOperator string
	listeners       []func(State)

	now             func() time.Time
	newTicker       func(time.Duration) Ticker
	interval        time.Duration
	locationTimeout time.Duration

	logger *slog.Logger

	mu            sync.Mutex // guards transitions
	state         atomic.Int32
	sink          Sink
	session       survey.Session
	sampling      bool
	recording     bool
	stopSources   context.CancelFunc
	stopLoop      context.CancelFunc
	loopDone      chan struct{}
	rows          atomic.Int64
	failures      atomic.Int64
	sessionLogger *slog.Logger
}

// NewController creates a Controller in the Stopped state
func NewController(signals SignalReader, locations LocationReader, options ...func(c *Controller)) *Controller {
	c := Controller{
		signals:         signals,
		locations:       locations,
		dataDir:         ".",
		permitted:       func() bool { return true },
		defaultOperator: telephony.DefaultOperator,
		now:             time.Now,
		newTicker:       newTimeTicker,
		interval:        DefaultInterval,
		locationTimeout: DefaultLocationTimeout,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(&c)
	}

	if c.openSink == nil {
		logger := c.logger
		c.openSink = func(root string, start time.Time) (Sink, error) {
			s, err := csvlog.Open(root, start, csvlog.WithLogger(logger))
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	c.sessionLogger = c.logger

	return &c
}

// State returns the current state
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Stats returns the counters of the current or last session
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		SessionID: c.session.ID,
		CSVPath:   c.session.CSVPath,
		Rows:      c.rows.Load(),
		Failures:  c.failures.Load(),
	}
}

// Handle applies a command. Commands that are not valid in the current state
// are ignored. Only a failed start returns an error, leaving the controller
// Stopped.
func (c *Controller) Handle(ctx context.Context, cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.State()

	var err error
	switch {
	case cmd == CommandStart && prev == Stopped:
		err = c.start(ctx)
	case cmd == CommandPause && prev == Running:
		c.pause()
	case cmd == CommandResume && prev == Paused:
		c.resume()
	case cmd == CommandStop && prev.Active():
		c.stop(ctx)
	default:
		c.logger.Debug("command ignored", slog.String("command", cmd.String()), slog.String("state", prev.String()))
	}

	if next := c.State(); next != prev {
		c.sessionLogger.Info("state changed", slog.String("from", prev.String()), slog.String("to", next.String()))
		for _, listener := range c.listeners {
			listener(next)
		}
	}

	return err
}

// Run handles commands until the channel is closed or ctx is cancelled, then
// stops the session if one is open.
func (c *Controller) Run(ctx context.Context, commands <-chan Command) error {
	defer func() {
		_ = c.Handle(context.WithoutCancel(ctx), CommandStop)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			if err := c.Handle(ctx, cmd); err != nil {
				c.logger.Error("command failed", slog.String("command", cmd.String()), slog.Any("error", err))
			}
		}
	}
}

func (c *Controller) start(ctx context.Context) error {
	start := c.now()

	sink, err := c.openSink(c.dataDir, start)
	if err != nil {
		return fmt.Errorf("error opening sink: %w", err)
	}

	c.sink = sink
	c.session = survey.Session{
		ID:        uuid.NewString(),
		StartTime: start,
		CSVPath:   sink.Path(),
	}
	c.rows.Store(0)
	c.failures.Store(0)
	c.sessionLogger = c.logger.With(slog.String("session", c.session.ID))
	c.sessionLogger.Info("session started", slog.String("path", sink.Path()))

	c.recording = false
	if c.recorder != nil {
		if err = c.withRecorder(ctx, func(ctx context.Context) error {
			return c.recorder.CreateSession(ctx, c.session)
		}); err != nil {
			c.sessionLogger.Error("error recording session", slog.Any("error", err))
		} else {
			c.recording = true
		}
	}

	c.sampling = c.permitted()
	if c.sampling {
		srcCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.stopSources = cancel
		for _, src := range c.sources {
			if err = src.Start(srcCtx); err != nil {
				c.sessionLogger.Error("error starting source", slog.Any("error", err))
			}
		}
	} else {
		c.sessionLogger.Warn("sampling disabled, logging placeholder rows", slog.Any("error", ErrPermissionDenied))
	}

	c.acquireWakeLock()
	c.state.Store(int32(Running))
	c.startLoop(true)

	return nil
}

func (c *Controller) pause() {
	c.haltLoop()
	c.releaseWakeLock()
	c.state.Store(int32(Paused))
}

func (c *Controller) resume() {
	c.acquireWakeLock()
	c.state.Store(int32(Running))
	c.startLoop(false)
}

func (c *Controller) stop(ctx context.Context) {
	c.haltLoop()
	c.releaseWakeLock()

	if c.stopSources != nil {
		for _, src := range c.sources {
			src.Stop()
		}
		c.stopSources()
		c.stopSources = nil
	}

	if err := c.sink.Close(); err != nil {
		c.sessionLogger.Error("error closing sink", slog.Any("error", err))
	}

	end := c.now()
	c.session.EndTime = end
	c.session.Rows = c.rows.Load()

	if c.recording {
		if err := c.withRecorder(ctx, func(ctx context.Context) error {
			return c.recorder.FinishSession(ctx, c.session.ID, end, c.session.Rows)
		}); err != nil {
			c.sessionLogger.Error("error finishing session", slog.Any("error", err))
		}
	}

	c.sessionLogger.Info("session finished",
		slog.Int64("rows", c.session.Rows),
		slog.Int64("failures", c.failures.Load()),
		slog.Duration("duration", end.Sub(c.session.StartTime)))

	c.state.Store(int32(Terminated))
}

// startLoop starts a sampling loop, detaching any previous one first
func (c *Controller) startLoop(immediate bool) {
	c.haltLoop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.stopLoop = cancel
	c.loopDone = done

	ticker := c.newTicker(c.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()

		if immediate {
			c.tick()
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				if ctx.Err() != nil {
					return
				}
				c.tick()
			}
		}
	}()
}

// haltLoop stops the sampling loop and waits for an in-flight tick
func (c *Controller) haltLoop() {
	if c.stopLoop == nil {
		return
	}
	c.stopLoop()
	<-c.loopDone
	c.stopLoop = nil
	c.loopDone = nil
}

func (c *Controller) tick() {
	r := c.sample()

	if err := c.sink.Append(r); err != nil {
		c.failures.Add(1)
		c.sessionLogger.Error("error writing row", slog.Any("error", err))
		return
	}
	c.rows.Add(1)

	if c.recording {
		if err := c.withRecorder(context.Background(), func(ctx context.Context) error {
			return c.recorder.StoreReading(ctx, c.session.ID, r)
		}); err != nil {
			c.sessionLogger.Warn("error recording reading", slog.Any("error", err))
		}
	}
}

func (c *Controller) sample() survey.Reading {
	r := survey.Reading{Timestamp: c.now()}

	if !c.sampling {
		r.SIM1 = survey.SignalSample{Slot: survey.SlotSIM1, Operator: c.defaultOperator}
		r.SIM2 = survey.SignalSample{Slot: survey.SlotSIM2, Operator: c.defaultOperator}
		return r
	}

	r.SIM1 = c.signals.CurrentReading(survey.SlotSIM1)
	r.SIM2 = c.signals.CurrentReading(survey.SlotSIM2)

	ctx, cancel := context.WithTimeout(context.Background(), c.locationTimeout)
	defer cancel()
	if loc, ok := c.locations.CurrentLocation(ctx); ok {
		r.Location = &loc
	}

	return r
}

func (c *Controller) withRecorder(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recorderTimeout)
	defer cancel()
	return fn(ctx)
}

func (c *Controller) acquireWakeLock() {
	if c.wakeLock == nil {
		return
	}
	if err := c.wakeLock.Acquire(); err != nil {
		c.sessionLogger.Warn("error acquiring wake lock", slog.Any("error", err))
	}
}

func (c *Controller) releaseWakeLock() {
	if c.wakeLock == nil {
		return
	}
	if err := c.wakeLock.Release(); err != nil {
		c.sessionLogger.Warn("error releasing wake lock", slog.Any("error", err))
	}
}
