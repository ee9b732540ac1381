package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

const (
	defaultBufferCapacity   = 30
	defaultBufferFlushCount = 30
)

// WithLogger sets the logger of the recorder
func WithLogger(logger *slog.Logger) func(r *BufferedRecorder) {
	return func(r *BufferedRecorder) {
		r.logger = logger.With(slog.String("component", "recorder"))
	}
}

// WithBuffer sets the number of readings held in memory per session and the
// number of readings written to the store when the buffer is full.
func WithBuffer(capacity, flushCount int) func(r *BufferedRecorder) {
	return func(r *BufferedRecorder) {
		r.capacity = capacity
		r.flushCount = flushCount
	}
}

// BufferedRecorder mirrors tracking sessions into a Store. Readings are
// collected in a ReadingBuffer and written in batches, the remainder is
// written when the session finishes.
type BufferedRecorder struct {
	store  Store
	logger *slog.Logger

	capacity   int
	flushCount int

	mu      sync.Mutex
	buffers map[string]*ReadingBuffer
}

// NewBufferedRecorder creates a recorder on top of store
func NewBufferedRecorder(store Store, options ...func(r *BufferedRecorder)) (*BufferedRecorder, error) {
	r := BufferedRecorder{
		store:      store,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		capacity:   defaultBufferCapacity,
		flushCount: defaultBufferFlushCount,
		buffers:    make(map[string]*ReadingBuffer),
	}
	for _, option := range options {
		option(&r)
	}

	// validate the buffer parameters upfront
	if _, err := NewReadingBuffer(r.capacity, r.flushCount); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *BufferedRecorder) CreateSession(ctx context.Context, session survey.Session) error {
	buffer, err := NewReadingBuffer(r.capacity, r.flushCount)
	if err != nil {
		return err
	}

	if err = r.store.CreateSession(ctx, session); err != nil {
		return err
	}

	r.mu.Lock()
	r.buffers[session.ID] = buffer
	r.mu.Unlock()
	return nil
}

func (r *BufferedRecorder) buffer(sessionID string) (*ReadingBuffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buffer, ok := r.buffers[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return buffer, nil
}

// StoreReading buffers the reading and writes a batch when the buffer is
// full. Readings of a failed batch are dropped.
func (r *BufferedRecorder) StoreReading(ctx context.Context, sessionID string, reading survey.Reading) error {
	buffer, err := r.buffer(sessionID)
	if err != nil {
		return err
	}

	buffer.Insert(reading)
	if !buffer.IsFull() {
		return nil
	}

	batch := buffer.Flush()
	if err = r.store.StoreReadings(ctx, sessionID, batch); err != nil {
		return fmt.Errorf("storing %d readings: %w", len(batch), err)
	}

	r.logger.Debug("readings stored", slog.String("session", sessionID), slog.Int("count", len(batch)))
	return nil
}

// FinishSession writes the buffered readings and closes the session
func (r *BufferedRecorder) FinishSession(ctx context.Context, sessionID string, end time.Time, rows int64) error {
	buffer, err := r.buffer(sessionID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.buffers, sessionID)
	r.mu.Unlock()

	var errs []error
	if batch := buffer.DrainAll(); len(batch) > 0 {
		if err = r.store.StoreReadings(ctx, sessionID, batch); err != nil {
			errs = append(errs, fmt.Errorf("storing %d readings: %w", len(batch), err))
		}
	}
	if err = r.store.FinishSession(ctx, sessionID, end, rows); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Pending returns the number of readings not yet written for the session
func (r *BufferedRecorder) Pending(sessionID string) int {
	buffer, err := r.buffer(sessionID)
	if err != nil {
		return 0
	}
	return buffer.Size()
}
