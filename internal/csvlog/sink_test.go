package csvlog

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

const headerLine = "Timestamp,Latitude,Longitude,SIM1 Name,SIM1 Signal Strength (dBm),SIM2 Name,SIM2 Signal Strength (dBm)"

func readLines(t *testing.T, path string) []string {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	return lines
}

func TestOpen_CreatesDirectoryAndHeader(t *testing.T) {
	root := filepath.Join(t.TempDir(), "documents")
	start := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)

	sink, err := Open(root, start)
	if err != nil {
		t.Fatalf("Failed to open sink: %v", err)
	}
	defer sink.Close()

	expected := filepath.Join(root, AppDirectory, "tracking_data_20240309_140507.csv")
	if sink.Path() != expected {
		t.Errorf("Expected path %s, got %s", expected, sink.Path())
	}

	lines := readLines(t, sink.Path())
	if len(lines) != 1 || lines[0] != headerLine {
		t.Errorf("Expected only the header, got %q", lines)
	}
}

func TestOpen_HeaderWrittenOnce(t *testing.T) {
	root := t.TempDir()
	start := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)

	first, err := Open(root, start)
	if err != nil {
		t.Fatalf("Failed to open sink: %v", err)
	}
	if err = first.Append(survey.Reading{Timestamp: start}); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if err = first.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	second, err := Open(root, start)
	if err != nil {
		t.Fatalf("Failed to reopen sink: %v", err)
	}
	if err = second.Append(survey.Reading{Timestamp: start.Add(2 * time.Second)}); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	_ = second.Close()

	lines := readLines(t, second.Path())
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d: %q", len(lines), lines)
	}

	headers := 0
	for _, line := range lines {
		if line == headerLine {
			headers++
		}
	}
	if headers != 1 {
		t.Errorf("Expected exactly one header, got %d", headers)
	}
}

func TestOpen_DirectoryUncreatable(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(root, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to create blocking file: %v", err)
	}

	_, err := Open(root, time.Now())
	if !errors.Is(err, ErrDirectory) {
		t.Errorf("Expected ErrDirectory, got %v", err)
	}
}

func TestSink_SentinelRow(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)

	sink, err := Open(t.TempDir(), start)
	if err != nil {
		t.Fatalf("Failed to open sink: %v", err)
	}

	reading := survey.Reading{
		Timestamp: start,
		SIM1:      survey.SignalSample{Slot: 0, Operator: "Unknown"},
		SIM2:      survey.SignalSample{Slot: 1, Operator: "Unknown"},
	}
	if err = sink.Append(reading); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	_ = sink.Close()

	lines := readLines(t, sink.Path())
	expected := "2024-01-02 03:04:05,0.0,0.0,Unknown,N/A,Unknown,N/A"
	if len(lines) != 2 || lines[1] != expected {
		t.Errorf("Expected row %q, got %q", expected, lines)
	}
}

func TestSink_SevenFieldsPerRow(t *testing.T) {
	start := time.Now()

	sink, err := Open(t.TempDir(), start)
	if err != nil {
		t.Fatalf("Failed to open sink: %v", err)
	}

	readings := []survey.Reading{
		{Timestamp: start},
		{
			Timestamp: start.Add(time.Second),
			Location:  &survey.Location{Latitude: 52.520008, Longitude: 13.404954},
			SIM1:      survey.SignalSample{Slot: 0, Operator: "Vodafone", DBm: survey.IntPtr(-87)},
			SIM2:      survey.SignalSample{Slot: 1, Operator: "Unknown"},
		},
		{
			Timestamp: start.Add(2 * time.Second),
			SIM1:      survey.SignalSample{Slot: 0, Operator: "O2", DBm: survey.IntPtr(-101)},
			SIM2:      survey.SignalSample{Slot: 1, Operator: "Telekom", DBm: survey.IntPtr(-65)},
		},
	}
	for i, r := range readings {
		if err := sink.Append(r); err != nil {
			t.Fatalf("Failed to append reading %d: %v", i, err)
		}
	}
	if sink.Rows() != int64(len(readings)) {
		t.Errorf("Expected %d rows, got %d", len(readings), sink.Rows())
	}
	_ = sink.Close()

	lines := readLines(t, sink.Path())
	for i, line := range lines[1:] {
		if fields := strings.Split(line, ","); len(fields) != Columns {
			t.Errorf("Row %d: expected %d fields, got %d (%q)", i, Columns, len(fields), line)
		}
	}
}

func TestSink_OperatorWithCommaStaysSevenFields(t *testing.T) {
	start := time.Now()

	sink, err := Open(t.TempDir(), start)
	if err != nil {
		t.Fatalf("Failed to open sink: %v", err)
	}

	r := survey.Reading{
		Timestamp: start.Truncate(time.Second),
		SIM1:      survey.SignalSample{Slot: 0, Operator: "Carrier, Inc.", DBm: survey.IntPtr(-90)},
		SIM2:      survey.SignalSample{Slot: 1, Operator: "Unknown"},
	}
	if err = sink.Append(r); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	_ = sink.Close()

	reader, err := NewReader(sink.Path(), nil)
	if err != nil {
		t.Fatalf("Failed to open reader: %v", err)
	}
	defer reader.Close()

	if !reader.Next() {
		t.Fatalf("Expected a row, got error %v", reader.Error())
	}
	if got := reader.Current().SIM1.Operator; got != "Carrier, Inc." {
		t.Errorf("Expected operator %q, got %q", "Carrier, Inc.", got)
	}
}

func TestSink_CloseIsIdempotent(t *testing.T) {
	sink, err := Open(t.TempDir(), time.Now())
	if err != nil {
		t.Fatalf("Failed to open sink: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := sink.Close(); err != nil {
			t.Errorf("Close %d returned error: %v", i, err)
		}
	}

	if err := sink.Append(survey.Reading{Timestamp: time.Now()}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after close, got %v", err)
	}
}

// failingFile writes half of the data and fails for the first failures writes
type failingFile struct {
	*os.File
	failures int
}

func (f *failingFile) Write(p []byte) (int, error) {
	if f.failures > 0 {
		f.failures--
		n, _ := f.File.Write(p[:len(p)/2])
		return n, syscall.ENOSPC
	}
	return f.File.Write(p)
}

func TestSink_RecoversAfterWriteFailure(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)

	sink, err := Open(t.TempDir(), start)
	if err != nil {
		t.Fatalf("Failed to open sink: %v", err)
	}
	sink.file = &failingFile{File: sink.file.(*os.File), failures: 1}

	for i := 0; i < 3; i++ {
		r := survey.Reading{
			Timestamp: start.Add(time.Duration(i) * time.Second),
			SIM1:      survey.SignalSample{Slot: 0, Operator: "Vodafone", DBm: survey.IntPtr(-80 - i)},
			SIM2:      survey.SignalSample{Slot: 1, Operator: "Unknown"},
		}
		err = sink.Append(r)
		if i == 0 && !errors.Is(err, syscall.ENOSPC) {
			t.Errorf("Expected ENOSPC for the first row, got %v", err)
		}
		if i > 0 && err != nil {
			t.Errorf("Append %d should succeed once the disk recovers, got %v", i, err)
		}
	}

	if sink.Rows() != 2 {
		t.Errorf("Expected 2 rows, got %d", sink.Rows())
	}
	_ = sink.Close()

	lines := readLines(t, sink.Path())
	expected := []string{
		headerLine,
		"2024-01-02 03:04:06,0.0,0.0,Vodafone,-81,Unknown,N/A",
		"2024-01-02 03:04:07,0.0,0.0,Vodafone,-82,Unknown,N/A",
	}
	if len(lines) != len(expected) {
		t.Fatalf("Expected %d lines, got %q", len(expected), lines)
	}
	for i := range expected {
		if lines[i] != expected[i] {
			t.Errorf("Line %d: expected %q, got %q", i, expected[i], lines[i])
		}
	}
}

func TestOpen_HeaderFailureRemovesFile(t *testing.T) {
	root := t.TempDir()
	start := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)

	defaultOpen := openFile
	t.Cleanup(func() { openFile = defaultOpen })

	openFile = func(name string) (logFile, error) {
		f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		return &failingFile{File: f, failures: 1}, nil
	}

	if _, err := Open(root, start); !errors.Is(err, syscall.ENOSPC) {
		t.Fatalf("Expected ENOSPC, got %v", err)
	}
	path := filepath.Join(root, AppDirectory, FileName(start))
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Expected no file after a failed header, got %v", err)
	}

	openFile = defaultOpen
	sink, err := Open(root, start)
	if err != nil {
		t.Fatalf("Failed to reopen sink: %v", err)
	}
	_ = sink.Close()

	if lines := readLines(t, path); len(lines) != 1 || lines[0] != headerLine {
		t.Errorf("Expected the header on reopen, got %q", lines)
	}
}
