package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

// maxBatchSize keeps batch inserts under the sqlite bound parameters limit
const maxBatchSize = 100

// WithSessionConfig sets the configuration stored with every new session.
// Can be string, []byte or JSON-serializable object.
func WithSessionConfig(config any) func(s *SqliteStore) {
	return func(s *SqliteStore) {
		s.config = config
	}
}

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string
	config any

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

var _ Store = (*SqliteStore)(nil)

// NewSqliteStore creates a store backed by the sqlite database at dbPath.
// Connections are opened lazily.
func NewSqliteStore(dbPath string, options ...func(s *SqliteStore)) *SqliteStore {
	s := SqliteStore{dbPath: dbPath}
	for _, option := range options {
		option(&s)
	}
	return &s
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateSession(ctx context.Context, session survey.Session) (err error) {
	var config any = session.Config
	if session.Config == nil {
		config = s.config
	}

	configData, err := toNullConfig(config)
	if err != nil {
		return err
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if _, err = stmt.ExecContext(ctx, session.ID, session.StartTime.UTC(), session.CSVPath, configData); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (s *SqliteStore) FinishSession(ctx context.Context, sessionID string, end time.Time, rows int64) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	result, err := db.ExecContext(ctx, finishSessionSQL, end.UTC(), rows, sessionID)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

func (s *SqliteStore) Session(ctx context.Context, id string) (session *survey.Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return loadSession(ctx, db, id)
}

func loadSession(ctx context.Context, db *sql.DB, id string) (session *survey.Session, err error) {
	stmt, err := db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var d sessionData
	err = stmt.QueryRowContext(ctx, id).Scan(&d.ID, &d.StartTime, &d.EndTime, &d.CSVPath, &d.Rows, &d.Config)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	return d.session(), nil
}

func (s *SqliteStore) Sessions(ctx context.Context) (sessions []*survey.Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var d sessionData
		if err = rows.Scan(&d.ID, &d.StartTime, &d.EndTime, &d.CSVPath, &d.Rows, &d.Config); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		sessions = append(sessions, d.session())
	}
	err = rows.Err()
	return
}

func (s *SqliteStore) StoreReading(ctx context.Context, sessionID string, r survey.Reading) error {
	return s.StoreReadings(ctx, sessionID, []survey.Reading{r})
}

func (s *SqliteStore) StoreReadings(ctx context.Context, sessionID string, readings []survey.Reading) (err error) {
	if len(readings) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	for start := 0; start < len(readings); start += maxBatchSize {
		end := min(start+maxBatchSize, len(readings))
		if err = insertReadings(ctx, tx, sessionID, readings[start:end]); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func insertReadings(ctx context.Context, tx *sql.Tx, sessionID string, readings []survey.Reading) error {
	const valuesPlaceholder = "(?, ?, ?, ?, ?, ?, ?, ?, ?)"

	values := make([]any, 0, len(readings)*9)

	var sb strings.Builder
	sb.WriteString(insertReadingSQL)

	for i, r := range readings {
		d := toReadingData(sessionID, r)
		values = append(values,
			d.SessionID,
			d.Timestamp,
			d.Latitude,
			d.Longitude,
			d.Accuracy,
			d.SIM1Operator,
			d.SIM1DBm,
			d.SIM2Operator,
			d.SIM2DBm,
		)

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(valuesPlaceholder)
	}

	if _, err := tx.ExecContext(ctx, sb.String(), values...); err != nil {
		return fmt.Errorf("batch inserting readings: %w", err)
	}
	return nil
}

// ReadReadings creates a reader over the readings of a session. Options
// narrow the time range.
func (s *SqliteStore) ReadReadings(ctx context.Context, sessionID string, opts ...ReaderOption) (*SqliteReadingReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newSqliteReadingReader(ctx, db, sessionID, opts...)
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
