package app

import (
	"context"
	"flag"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roman-kulish/dbm-tracker/internal/csvlog"
	"github.com/roman-kulish/dbm-tracker/internal/storage"
	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func parseArgs(t *testing.T, args ...string) (*Config, error) {
	t.Helper()

	fs := flag.NewFlagSet("signalmap", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return ParseFlags(fs, args)
}

func TestParseFlags(t *testing.T) {
	c, err := parseArgs(t, "-db", "tracker.db", "-s", "abc", "-o", "out", "-f", "JPEG",
		"-mode", "track", "-sim", "2", "-theme", "thermal", "-tz", "UTC", "-min-dbm", "-110",
		"-from", "2024-01-02 03:00:00")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if c.OutputFile != "out.jpeg" || c.Format != ImageJPEG {
		t.Errorf("Unexpected output %s %s", c.OutputFile, c.Format)
	}
	if c.Mode != ModeTrack || c.Slot != survey.SlotSIM2 || c.Theme != ThermalTheme {
		t.Errorf("Unexpected render options %+v", c)
	}
	if c.MinDBm == nil || *c.MinDBm != -110 || c.MaxDBm != nil {
		t.Errorf("Unexpected manual bounds %v %v", c.MinDBm, c.MaxDBm)
	}
	if b := c.Bounds(); b == nil || b.Min != -110 || b.Max != defaultMaxPower {
		t.Errorf("Unexpected bounds %+v", b)
	}
	if c.From == nil || !c.From.Equal(time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)) || c.To != nil {
		t.Errorf("Unexpected time filter %v %v", c.From, c.To)
	}
}

func TestParseFlags_Defaults(t *testing.T) {
	c, err := parseArgs(t, "-csv", "log.csv", "-o", "map.png")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if c.OutputFile != "map.png" {
		t.Errorf("Extension should not be repeated, got %s", c.OutputFile)
	}
	if c.Mode != ModeTimeline || c.Theme != EnhancedTheme || c.Slot != survey.SlotSIM1 {
		t.Errorf("Unexpected defaults %+v", c)
	}
	if c.Bounds() != nil {
		t.Error("Expected no manual bounds")
	}
}

func TestParseFlags_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		errText string
	}{
		{name: "no input", args: []string{"-o", "out"}, errText: "required"},
		{name: "both inputs", args: []string{"-db", "a", "-s", "b", "-csv", "c", "-o", "out"}, errText: "mutually exclusive"},
		{name: "no session", args: []string{"-db", "a", "-o", "out"}, errText: "session id"},
		{name: "no output", args: []string{"-csv", "c"}, errText: "output file"},
		{name: "bad format", args: []string{"-csv", "c", "-o", "out", "-f", "gif"}, errText: "image format"},
		{name: "bad theme", args: []string{"-csv", "c", "-o", "out", "-theme", "sepia"}, errText: "theme"},
		{name: "bad mode", args: []string{"-csv", "c", "-o", "out", "-mode", "globe"}, errText: "mode"},
		{name: "bad sim", args: []string{"-csv", "c", "-o", "out", "-sim", "3"}, errText: "sim"},
		{name: "bad bounds", args: []string{"-csv", "c", "-o", "out", "-min-dbm", "-50", "-max-dbm", "-60"}, errText: "min-dbm"},
		{name: "bad zone", args: []string{"-csv", "c", "-o", "out", "-tz", "Mars/Olympus"}, errText: "time zone"},
		{name: "bad range", args: []string{"-csv", "c", "-o", "out", "-from", "2024-01-02 10:00:00", "-to", "2024-01-02 09:00:00"}, errText: "before"},
		{name: "list without db", args: []string{"-list"}, errText: "db path"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseArgs(t, tc.args...)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tc.errText) {
				t.Errorf("Expected error containing %q, got %v", tc.errText, err)
			}
		})
	}
}

func testReadings(n int) []survey.Reading {
	readings := make([]survey.Reading, n)
	for i := range readings {
		readings[i] = survey.Reading{
			Timestamp: t0.Add(time.Duration(i) * 2 * time.Second),
			SIM1:      survey.SignalSample{Slot: survey.SlotSIM1, Operator: "Vodafone", DBm: survey.IntPtr(-70 - i%30)},
			SIM2:      survey.SignalSample{Slot: survey.SlotSIM2, Operator: "Three UK", DBm: survey.IntPtr(-90 + i%20)},
			Location:  &survey.Location{Latitude: 51.5 + float64(i)*0.0001, Longitude: -0.12},
		}
	}
	return readings
}

func TestRun_CSVTimeline(t *testing.T) {
	dir := t.TempDir()

	sink, err := csvlog.Open(dir, t0)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range testReadings(100) {
		if err = sink.Append(r); err != nil {
			t.Fatal(err)
		}
	}
	if err = sink.Close(); err != nil {
		t.Fatal(err)
	}

	output := filepath.Join(dir, "map.png")
	config := NewConfig()
	config.CSVPath = sink.Path()
	config.OutputFile = output
	config.TimeZone = time.UTC

	if err = Run(context.Background(), config, discardLogger); err != nil {
		t.Fatalf("Failed to render: %v", err)
	}

	f, err := os.Open(output)
	if err != nil {
		t.Fatalf("Expected output file: %v", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Expected a png image: %v", err)
	}
	if img.Bounds().Dx() != minimumTimelineSize+defaultLeftBorder+defaultRightBorder {
		t.Errorf("Unexpected image width %d", img.Bounds().Dx())
	}
}

func TestRun_DatabaseTrack(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "tracker.db")
	ctx := context.Background()

	store := storage.NewSqliteStore(dbPath)
	if err := store.CreateSession(ctx, survey.Session{ID: "session", StartTime: t0, CSVPath: "tracking.csv"}); err != nil {
		t.Fatal(err)
	}
	if err := store.StoreReadings(ctx, "session", testReadings(50)); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	to := t0.Add(time.Minute)
	config := NewConfig()
	config.DBPath = dbPath
	config.SessionID = "session"
	config.OutputFile = filepath.Join(dir, "track.jpeg")
	config.Format = ImageJPEG
	config.Mode = ModeTrack
	config.Slot = survey.SlotSIM2
	config.To = &to

	if err := Run(ctx, config, discardLogger); err != nil {
		t.Fatalf("Failed to render: %v", err)
	}

	f, err := os.Open(config.OutputFile)
	if err != nil {
		t.Fatalf("Expected output file: %v", err)
	}
	defer f.Close()

	if _, err = jpeg.Decode(f); err != nil {
		t.Errorf("Expected a jpeg image: %v", err)
	}
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()

	config := NewConfig()
	config.DBPath = filepath.Join(dir, "missing.db")
	config.SessionID = "x"
	config.OutputFile = filepath.Join(dir, "out.png")
	if err := Run(context.Background(), config, discardLogger); err == nil {
		t.Error("Expected error for missing database")
	}

	empty := filepath.Join(dir, "empty.csv")
	if err := os.WriteFile(empty, []byte(strings.Join(csvlog.Header, ",")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	config = NewConfig()
	config.CSVPath = empty
	config.OutputFile = filepath.Join(dir, "out.png")
	if err := Run(context.Background(), config, discardLogger); err == nil {
		t.Error("Expected error for a log without readings")
	}
	if _, err := os.Stat(config.OutputFile); !os.IsNotExist(err) {
		t.Error("No image should be written without readings")
	}
}

func TestRun_ListSessions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tracker.db")
	ctx := context.Background()

	store := storage.NewSqliteStore(dbPath)
	for i, id := range []string{"first", "second"} {
		if err := store.CreateSession(ctx, survey.Session{ID: id, StartTime: t0.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.FinishSession(ctx, "first", t0.Add(30*time.Minute), 900); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	var sb strings.Builder
	logger := slog.New(slog.NewTextHandler(&sb, nil))

	config := NewConfig()
	config.DBPath = dbPath
	config.List = true
	if err := Run(ctx, config, logger); err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}

	out := sb.String()
	for _, expected := range []string{"id=first", "rows=900", "duration=30m0s", "id=second", "active=true"} {
		if !strings.Contains(out, expected) {
			t.Errorf("Expected %q in output:\n%s", expected, out)
		}
	}
}
