package storage

import (
	"context"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

// ErrSessionNotFound is returned when the requested session does not exist
var ErrSessionNotFound = errors.New("session not found")

// Store keeps a catalog of tracking sessions together with a copy of every
// reading written to the session CSV log.
type Store interface {
	// CreateSession registers a new session. A nil session Config is replaced
	// with the store's configuration, if any.
	CreateSession(ctx context.Context, session survey.Session) error

	// FinishSession records the end time and the number of rows written.
	FinishSession(ctx context.Context, sessionID string, end time.Time, rows int64) error

	// Session retrieves a session by its ID. Returns ErrSessionNotFound if
	// there is no such session.
	Session(ctx context.Context, id string) (*survey.Session, error)

	// Sessions returns all sessions ordered by start time.
	Sessions(ctx context.Context) ([]*survey.Session, error)

	// StoreReading saves a single reading of the session.
	StoreReading(ctx context.Context, sessionID string, r survey.Reading) error

	// StoreReadings saves a batch of readings in a single transaction.
	StoreReadings(ctx context.Context, sessionID string, readings []survey.Reading) error

	// ReadReadings returns a reader over the readings of a session in
	// timestamp order. The reader must be closed after use.
	ReadReadings(ctx context.Context, sessionID string, opts ...ReaderOption) (*SqliteReadingReader, error)

	// Close releases all database connections. It is safe to call Close
	// multiple times.
	Close() error
}
