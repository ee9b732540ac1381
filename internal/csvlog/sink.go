package csvlog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

const (
	// AppDirectory is created under the data directory to hold the CSV files
	AppDirectory = "DBMTracker"

	fileLayout = "20060102_150405"
	filePrefix = "tracking_data_"
	fileExt    = ".csv"
)

var (
	// ErrDirectory is returned when the log directory cannot be created
	ErrDirectory = errors.New("log directory unavailable")

	// ErrClosed is returned by Append once the sink is closed
	ErrClosed = errors.New("sink is closed")
)

// WithLogger sets the logger for the sink
func WithLogger(logger *slog.Logger) func(s *Sink) {
	return func(s *Sink) {
		s.logger = logger
	}
}

// Sink appends readings to a single CSV file. Every row is flushed and synced
// to storage before Append returns.
type Sink struct {
	path string

	mu      sync.Mutex
	file    logFile
	offset  int64 // end of the last complete row
	written uint64
	rows    int64

	closeOnce sync.Once
	closeErr  error

	logger *slog.Logger
}

// FileName returns the CSV file name for a session started at start
func FileName(start time.Time) string {
	return filePrefix + start.Format(fileLayout) + fileExt
}

// Open creates the application directory under root if needed and opens the
// session file for appending. The header is written only when the file is new.
func Open(root string, start time.Time, options ...func(s *Sink)) (sink *Sink, err error) {
	dir := filepath.Join(root, AppDirectory)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating '%s': %w", ErrDirectory, dir, err)
	}

	s := Sink{
		path:   filepath.Join(dir, FileName(start)),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(&s)
	}
	s.logger = s.logger.With(slog.String("file", s.path))

	isNew := false
	if _, err = os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		isNew = true
	}

	file, err := openFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening '%s': %w", s.path, err)
	}

	info, err := os.Stat(s.path)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("opening '%s': %w", s.path, err)
	}

	s.file = file
	s.offset = info.Size()

	if isNew {
		if err = s.writeRecord(Header); err != nil {
			_ = file.Close()
			// a headerless file would be reused as is on the next open
			_ = os.Remove(s.path)
			return nil, fmt.Errorf("writing header: %w", err)
		}
		s.logger.Debug("created log file")
	}

	return &s, nil
}

// Path returns the path of the underlying file
func (s *Sink) Path() string {
	return s.path
}

// Rows returns the number of data rows appended through this sink
func (s *Sink) Rows() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Append formats the reading as a single row and writes it durably.
func (s *Sink) Append(r survey.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrClosed
	}

	if err := s.writeRecord(FormatRow(r)); err != nil {
		return fmt.Errorf("appending row: %w", err)
	}

	s.rows++
	return nil
}

// writeRecord writes one complete row or nothing. A failed write is cut back
// to the end of the previous row, so the next row starts on a clean line.
func (s *Sink) writeRecord(record []string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(record); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	n, err := s.file.Write(buf.Bytes())
	if err == nil {
		err = s.file.Sync()
	}
	if err != nil {
		if n > 0 {
			if terr := s.file.Truncate(s.offset); terr != nil {
				s.logger.Error("failed to discard partial row", slog.Any("error", terr))
			}
		}
		return fmt.Errorf("writing: %w", err)
	}

	s.offset += int64(n)
	s.written += uint64(n)
	return nil
}

// Close closes the file. It is safe to call Close multiple times.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.file == nil {
			return
		}

		s.closeErr = s.file.Close()
		s.file = nil

		s.logger.Info("log file closed",
			slog.Int64("rows", s.rows),
			slog.String("written", humanize.Bytes(s.written)))
	})

	return s.closeErr
}

var openFile = func(name string) (logFile, error) {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

type logFile interface {
	io.WriteCloser
	Sync() error
	Truncate(size int64) error
}
