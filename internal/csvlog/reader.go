package csvlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

// Reader iterates over the readings stored in a CSV log file.
type Reader struct {
	file    *os.File
	csv     *csv.Reader
	loc     *time.Location
	line    int
	current survey.Reading
	err     error
}

// NewReader opens a CSV log file for reading. Timestamps are interpreted in
// loc, time.Local if nil.
func NewReader(path string, loc *time.Location) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening '%s': %w", path, err)
	}

	r := csv.NewReader(file)
	r.FieldsPerRecord = Columns
	r.ReuseRecord = true

	return &Reader{file: file, csv: r, loc: loc}, nil
}

// Next advances to the next reading. It returns false at the end of the file
// or on the first error, which is available through Error.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}

	for {
		record, err := r.csv.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.err = fmt.Errorf("reading line %d: %w", r.line+1, err)
			}
			return false
		}
		r.line++

		if r.line == 1 && slices.Equal(record, Header) {
			continue
		}

		if r.current, err = ParseRow(record, r.loc); err != nil {
			r.err = fmt.Errorf("parsing line %d: %w", r.line, err)
			return false
		}
		return true
	}
}

// Current returns the reading at the current position
func (r *Reader) Current() survey.Reading {
	return r.current
}

// Error returns the first error encountered while iterating
func (r *Reader) Error() error {
	return r.err
}

// Close closes the underlying file
func (r *Reader) Close() error {
	return r.file.Close()
}
