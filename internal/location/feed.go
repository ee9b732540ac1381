package location

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

const defaultRetryDelay = 5 * time.Second

// ErrAlreadyRunning is returned by Start when the feed is already running
var ErrAlreadyRunning = errors.New("location feed is already running")

// Stream delivers location updates until ctx is cancelled or the connection
// to the provider fails.
type Stream interface {
	Run(ctx context.Context, update func(survey.Location)) error
	Name() string
}

// WithLogger sets the logger for the feed
func WithLogger(logger *slog.Logger) func(f *Feed) {
	return func(f *Feed) {
		f.logger = logger.With(slog.String("source", "location"), slog.String("stream", f.stream.Name()))
	}
}

// WithRetryDelay sets the delay before reconnecting a failed stream
func WithRetryDelay(delay time.Duration) func(f *Feed) {
	return func(f *Feed) {
		f.retryDelay = delay
	}
}

// Feed keeps a Cache up to date from a Stream, reconnecting on failure.
type Feed struct {
	*Cache

	stream     Stream
	retryDelay time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger *slog.Logger
}

// NewFeed creates a Feed for the stream with an empty cache
func NewFeed(stream Stream, options ...func(f *Feed)) *Feed {
	f := Feed{
		Cache:      NewCache(),
		stream:     stream,
		retryDelay: defaultRetryDelay,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&f)
	}

	return &f
}

// Start clears the previous fix and subscribes to the stream in the background.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return ErrAlreadyRunning
	}

	f.Clear()

	ctx, f.cancel = context.WithCancel(ctx)
	f.running = true

	f.wg.Add(1)
	go f.run(ctx)

	return nil
}

// Stop unsubscribes from the stream and waits for it to exit. The last
// location stays cached until the next Start.
func (f *Feed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return // already stopped
	}

	f.cancel()
	f.wg.Wait()
	f.running = false
}

func (f *Feed) run(ctx context.Context) {
	defer f.wg.Done()

	f.logger.Info("subscribing to location updates...")
	defer f.logger.Info("location updates stopped")

	for {
		err := f.stream.Run(ctx, f.Update)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			f.logger.Warn(err.Error(), slog.Duration("retryIn", f.retryDelay))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(f.retryDelay):
		}
	}
}
