package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"
)

type ImageFormat string

type Config struct {
	DBPath     string
	SessionID  string
	CSVPath    string
	List       bool
	OutputFile string
	Format     ImageFormat
	Mode       Mode
	Theme      ColorTheme
	Slot       int // SIM slot index for the track mode
	TimeZone   *time.Location
	MinDBm     *float64
	MaxDBm     *float64
	From       *time.Time
	To         *time.Time
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func NewConfig() *Config {
	return &Config{
		Format:   ImagePNG,
		Mode:     ModeTimeline,
		Theme:    EnhancedTheme,
		TimeZone: time.Local,
	}
}

// NewConfigFromCLI parses the process command line
func NewConfigFromCLI() (*Config, error) {
	return ParseFlags(flag.CommandLine, nil)
}

// ParseFlags parses args with fs, os.Args[1:] are used when args is nil
func ParseFlags(fs *flag.FlagSet, args []string) (*Config, error) {
	c := NewConfig()

	var imageFormat, mode, theme, tz, from, to string
	var sim int
	var minDBm, maxDBm float64
	fs.StringVar(&c.DBPath, "db", "", "Path to the database file")
	fs.StringVar(&c.SessionID, "s", "", "Session ID, requires -db")
	fs.StringVar(&c.CSVPath, "csv", "", "Path to a tracking CSV file, used instead of -db")
	fs.BoolVar(&c.List, "list", false, "List the sessions stored in the database and exit")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file without extension")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.StringVar(&mode, "mode", string(ModeTimeline), "Image kind. [timeline, track]")
	fs.StringVar(&theme, "theme", string(EnhancedTheme), fmt.Sprintf("Color theme. %v", Themes))
	fs.IntVar(&sim, "sim", 1, "SIM to color the track by. [1, 2]")
	fs.StringVar(&tz, "tz", "Local", "Time zone of the CSV timestamps and the labels")
	fs.StringVar(&from, "from", "", "Skip readings before this time (format 2006-01-02 15:04:05)")
	fs.StringVar(&to, "to", "", "Skip readings after this time (format 2006-01-02 15:04:05)")
	fs.Float64Var(&minDBm, "min-dbm", 0, "Define a manual minimum signal level (format -nnn)")
	fs.Float64Var(&maxDBm, "max-dbm", 0, "Define a manual maximum signal level (format -nn)")

	if args == nil {
		args = os.Args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "min-dbm":
			c.MinDBm = &minDBm
		case "max-dbm":
			c.MaxDBm = &maxDBm
		}
	})

	err := c.apply(imageFormat, mode, theme, tz, from, to, sim)
	if err != nil {
		fs.Usage()
		return nil, err
	}
	return c, nil
}

func (c *Config) apply(imageFormat, mode, theme, tz, from, to string, sim int) (err error) {
	if c.TimeZone, err = time.LoadLocation(tz); err != nil {
		return fmt.Errorf("invalid time zone: %w", err)
	}

	if c.From, err = parseTime(from, c.TimeZone); err != nil {
		return fmt.Errorf("invalid -from: %w", err)
	}
	if c.To, err = parseTime(to, c.TimeZone); err != nil {
		return fmt.Errorf("invalid -to: %w", err)
	}
	if c.From != nil && c.To != nil && c.To.Before(*c.From) {
		return errors.New("-to is before -from")
	}

	if c.List {
		if c.DBPath == "" {
			return errors.New("db path is required")
		}
		return nil
	}

	imageFormat = strings.ToLower(imageFormat)

	switch {
	case c.DBPath == "" && c.CSVPath == "":
		return errors.New("db path or csv path is required")
	case c.DBPath != "" && c.CSVPath != "":
		return errors.New("db path and csv path are mutually exclusive")
	case c.DBPath != "" && c.SessionID == "":
		return errors.New("session id is required")
	case c.OutputFile == "":
		return errors.New("output file is required")
	case sim < 1 || sim > 2:
		return fmt.Errorf("invalid sim: %d", sim)
	case c.Bounds() != nil && c.Bounds().Span() <= 0:
		return errors.New("min-dbm must be below max-dbm")
	}

	if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
		return fmt.Errorf("invalid image format: %s", imageFormat)
	}
	if c.Theme, err = ParseColorTheme(strings.ToLower(theme)); err != nil {
		return err
	}

	switch Mode(strings.ToLower(mode)) {
	case ModeTimeline, ModeTrack:
		c.Mode = Mode(strings.ToLower(mode))
	default:
		return fmt.Errorf("invalid mode: %s", mode)
	}

	c.Slot = sim - 1
	c.Format = ImageFormat(imageFormat)
	if filepath.Ext(c.OutputFile) != "."+string(c.Format) {
		c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	}
	return nil
}

// Bounds returns the manual power range, nil when neither end is set.
// A single manual end is combined with the default of the other.
func (c *Config) Bounds() *PowerBounds {
	if c.MinDBm == nil && c.MaxDBm == nil {
		return nil
	}

	b := defaultPowerBounds()
	if c.MinDBm != nil {
		b.Min = *c.MinDBm
	}
	if c.MaxDBm != nil {
		b.Max = *c.MaxDBm
	}
	b.Mean = (b.Min + b.Max) / 2
	return &b
}

func parseTime(s string, loc *time.Location) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}

	t, err := time.ParseInLocation(time.DateTime, s, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
