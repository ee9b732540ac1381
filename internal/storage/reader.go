package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

// ReaderOption configures a SqliteReadingReader
type ReaderOption func(*SqliteReadingReader)

// WithStartTime skips readings taken before t
func WithStartTime(t time.Time) ReaderOption {
	return func(r *SqliteReadingReader) {
		r.startTime = &t
	}
}

// WithEndTime skips readings taken after t
func WithEndTime(t time.Time) ReaderOption {
	return func(r *SqliteReadingReader) {
		r.endTime = &t
	}
}

// WithTimeRange limits readings to the closed interval [startTime, endTime]
func WithTimeRange(startTime, endTime time.Time) ReaderOption {
	return func(r *SqliteReadingReader) {
		r.startTime = &startTime
		r.endTime = &endTime
	}
}

// SqliteReadingReader iterates over the readings of a session. It must be
// used from a single goroutine and closed after use.
type SqliteReadingReader struct {
	db        *sql.DB
	sessionID string
	session   *survey.Session

	startTime *time.Time
	endTime   *time.Time

	current survey.Reading
	rows    *sql.Rows
	err     error
}

func newSqliteReadingReader(ctx context.Context, db *sql.DB, sessionID string, opts ...ReaderOption) (*SqliteReadingReader, error) {
	r := SqliteReadingReader{
		db:        db,
		sessionID: sessionID,
	}
	for _, opt := range opts {
		opt(&r)
	}

	if err := r.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return &r, nil
}

func (r *SqliteReadingReader) init(ctx context.Context) error {
	if r.sessionID == "" {
		return errors.New("session ID required")
	}
	if r.startTime != nil && r.endTime != nil && r.startTime.After(*r.endTime) {
		return fmt.Errorf("start time %s is after end time %s", r.startTime, r.endTime)
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading session", fn: r.loadSession},
		{msg: "initializing query", fn: r.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (r *SqliteReadingReader) loadSession(ctx context.Context) (err error) {
	r.session, err = loadSession(ctx, r.db, r.sessionID)
	return err
}

func (r *SqliteReadingReader) initQuery(ctx context.Context) (err error) {
	from, to := int64(math.MinInt64), int64(math.MaxInt64)
	if r.startTime != nil {
		from = r.startTime.UnixMilli()
	}
	if r.endTime != nil {
		to = r.endTime.UnixMilli()
	}

	r.rows, err = r.db.QueryContext(ctx, selectReadingsSQL, r.sessionID, from, to)
	return err
}

// Session returns the session being read
func (r *SqliteReadingReader) Session() *survey.Session {
	return r.session
}

// Next advances to the next reading
func (r *SqliteReadingReader) Next(ctx context.Context) bool {
	if r.err != nil || r.rows == nil {
		return false
	}

	if err := ctx.Err(); err != nil {
		r.err = err
		return false
	}

	if !r.rows.Next() {
		return false
	}

	var d readingData
	if r.err = r.rows.Scan(
		&d.Timestamp,
		&d.Latitude,
		&d.Longitude,
		&d.Accuracy,
		&d.SIM1Operator,
		&d.SIM1DBm,
		&d.SIM2Operator,
		&d.SIM2DBm,
	); r.err != nil {
		r.err = fmt.Errorf("scanning reading: %w", r.err)
		return false
	}

	d.SessionID = r.sessionID
	r.current = d.reading()
	return true
}

// Current returns the reading loaded by the last call to Next
func (r *SqliteReadingReader) Current() survey.Reading {
	return r.current
}

func (r *SqliteReadingReader) Error() error {
	if r.err != nil {
		return r.err
	}
	if r.rows != nil {
		return r.rows.Err()
	}
	return nil
}

func (r *SqliteReadingReader) Close() error {
	if r.rows != nil {
		err := r.rows.Close()
		r.rows = nil
		return err
	}
	return nil
}
