package app

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/dbm-tracker/internal/csvlog"
	"github.com/roman-kulish/dbm-tracker/internal/storage"
	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

const boundsSmoothing = 0.3

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if config.CSVPath != "" {
		data, err := readCSV(ctx, config, logger)
		if err != nil {
			return err
		}
		return render(data, config, logger)
	}

	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	if config.List {
		return listSessions(ctx, store, logger)
	}

	data, err := readSession(ctx, store, config, logger)
	if err != nil {
		return err
	}
	return render(data, config, logger)
}

func listSessions(ctx context.Context, store *storage.SqliteStore, logger *slog.Logger) error {
	sessions, err := store.Sessions(ctx)
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		logger.Info("no sessions stored")
		return nil
	}

	for _, s := range sessions {
		attrs := []any{
			slog.String("id", s.ID),
			slog.String("started", s.StartTime.Local().Format(time.DateTime)),
			slog.String("ago", humanize.Time(s.StartTime)),
			slog.String("rows", humanize.Comma(s.Rows)),
			slog.String("csv", s.CSVPath),
		}
		if s.EndTime.IsZero() {
			attrs = append(attrs, slog.Bool("active", true))
		} else {
			attrs = append(attrs, slog.String("duration", s.EndTime.Sub(s.StartTime).Round(time.Second).String()))
		}
		logger.Info("session", attrs...)
	}
	return nil
}

func readSession(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) (*SignalData, error) {
	var opts []storage.ReaderOption
	var filters []any
	switch {
	case config.From != nil && config.To != nil:
		opts = append(opts, storage.WithTimeRange(config.From.UTC(), config.To.UTC()))
		filters = append(filters,
			slog.String("from", config.From.Format(time.DateTime)),
			slog.String("to", config.To.Format(time.DateTime)))

	case config.From != nil:
		opts = append(opts, storage.WithStartTime(config.From.UTC()))
		filters = append(filters, slog.String("from", config.From.Format(time.DateTime)))

	case config.To != nil:
		opts = append(opts, storage.WithEndTime(config.To.UTC()))
		filters = append(filters, slog.String("to", config.To.Format(time.DateTime)))
	}

	logger.Info("reader configuration", append(filters, slog.String("session", config.SessionID))...)

	iter, err := store.ReadReadings(ctx, config.SessionID, opts...)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	data := NewSignalData(NewSmoothBounds(boundsSmoothing))
	for iter.Next(ctx) {
		data.Update(iter.Current())
	}
	if err = iter.Error(); err != nil {
		return nil, err
	}

	logStats(logger, data)
	return data, nil
}

func readCSV(ctx context.Context, config *Config, logger *slog.Logger) (*SignalData, error) {
	reader, err := csvlog.NewReader(config.CSVPath, config.TimeZone)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	logger.Info("reading tracking log", slog.String("path", config.CSVPath))

	data := NewSignalData(NewSmoothBounds(boundsSmoothing))
	for reader.Next() {
		if err = ctx.Err(); err != nil {
			return nil, err
		}

		r := reader.Current()
		if inRange(r, config.From, config.To) {
			data.Update(r)
		}
	}
	if err = reader.Error(); err != nil {
		return nil, err
	}

	logStats(logger, data)
	return data, nil
}

func inRange(r survey.Reading, from, to *time.Time) bool {
	if from != nil && r.Timestamp.Before(*from) {
		return false
	}
	if to != nil && r.Timestamp.After(*to) {
		return false
	}
	return true
}

func logStats(logger *slog.Logger, data *SignalData) {
	bounds := data.BoundsTracker.Current()

	logger.Info("finished reading",
		slog.Group("stats",
			slog.String("readings", humanize.Comma(int64(data.Len()))),
			slog.String("fixes", humanize.Comma(int64(data.Fixes))),
			slog.String("start", data.TimestampStart.Local().Format(time.DateTime)),
			slog.String("end", data.TimestampEnd.Local().Format(time.DateTime)),
			slog.Int("sim1Samples", data.Samples[survey.SlotSIM1]),
			slog.Int("sim2Samples", data.Samples[survey.SlotSIM2]),
			slog.String("minPower", fmt.Sprintf("%0.1fdBm", bounds.Min)),
			slog.String("maxPower", fmt.Sprintf("%0.1fdBm", bounds.Max)),
		))
}

func render(data *SignalData, config *Config, logger *slog.Logger) error {
	renderer, err := NewRenderer(config.Mode, RenderConfig{
		Location:   config.TimeZone,
		ColorTheme: config.Theme,
		Bounds:     config.Bounds(),
		Slot:       config.Slot,
	})
	if err != nil {
		return fmt.Errorf("creating renderer: %w", err)
	}

	img, err := renderer.Render(data)
	if err != nil {
		return fmt.Errorf("rendering %s: %w", config.Mode, err)
	}

	logger.Info("rendered signal map",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.String("mode", string(config.Mode)),
			slog.String("theme", string(config.Theme)),
			slog.Int("width", img.Bounds().Dx()),
			slog.Int("height", img.Bounds().Dy()),
		))

	return writeImage(config.OutputFile, config.Format, img, logger)
}

func writeImage(path string, format ImageFormat, img image.Image, logger *slog.Logger) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err = encodeImage(out, format, img); err != nil {
		return fmt.Errorf("encoding image: %w", err)
	}

	if info, serr := out.Stat(); serr == nil {
		logger.Info("image saved", slog.String("size", humanize.Bytes(uint64(info.Size()))))
	}
	return nil
}

func encodeImage(w io.Writer, format ImageFormat, img image.Image) error {
	switch format {
	case ImageJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 98})
	default:
		return png.Encode(w, img)
	}
}
