package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
	"github.com/roman-kulish/dbm-tracker/internal/telephony"
	"github.com/roman-kulish/dbm-tracker/internal/tracking"
)

const (
	LocationNone      LocationType = "none"
	LocationNMEA      LocationType = "nmea"
	LocationWebSocket LocationType = "websocket"
	LocationCommand   LocationType = "command"
	LocationStatic    LocationType = "static"
)

const (
	WakeLockNone    WakeLockType = "none"
	WakeLockInhibit WakeLockType = "systemd-inhibit"
)

const (
	defaultBaudRate    = 9600
	defaultReadTimeout = 60 * time.Second
	defaultRetryDelay  = 5 * time.Second
	defaultBufferSize  = 30
)

type LocationType string

type WakeLockType string

// Config represents the main application configuration
type Config struct {
	Settings  Settings        `yaml:"settings" json:"-"`
	Tracking  TrackingConfig  `yaml:"tracking" json:"tracking"`
	Telephony TelephonyConfig `yaml:"telephony" json:"telephony"`
	Location  LocationConfig  `yaml:"location" json:"location"`
	Storage   StorageConfig   `yaml:"storage" json:"-"`
	Control   ControlConfig   `yaml:"control" json:"-"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel slog.Level `yaml:"logLevel"`
}

// TrackingConfig represents the tracking session settings
type TrackingConfig struct {
	DataDirectory   string       `yaml:"dataDirectory" json:"dataDirectory"`
	Interval        Duration     `yaml:"interval" json:"interval"`
	LocationTimeout Duration     `yaml:"locationTimeout" json:"locationTimeout"`
	WakeLock        WakeLockType `yaml:"wakeLock" json:"wakeLock"`
}

// TelephonyConfig represents the signal strength sources
type TelephonyConfig struct {
	DefaultOperator string               `yaml:"defaultOperator" json:"defaultOperator"`
	Subscriptions   []SubscriptionConfig `yaml:"subscriptions" json:"subscriptions"`
}

// SubscriptionConfig represents a single SIM slot subscription
type SubscriptionConfig struct {
	Slot                 int              `yaml:"slot" json:"slot"`
	Operator             string           `yaml:"operator" json:"operator"`
	Enabled              bool             `yaml:"enabled" json:"enabled"`
	Format               telephony.Format `yaml:"format" json:"format"`
	Command              []string         `yaml:"command" json:"command"`
	RepeatInterval       Duration         `yaml:"repeatInterval" json:"repeatInterval"`
	ParseErrorsThreshold uint8            `yaml:"parseErrorsThreshold" json:"parseErrorsThreshold"`
}

// LocationConfig represents the location source
type LocationConfig struct {
	Type        LocationType      `yaml:"type" json:"type"`
	SerialPort  string            `yaml:"serialPort" json:"serialPort,omitempty"`
	BaudRate    int               `yaml:"baudRate" json:"baudRate,omitempty"`
	URL         string            `yaml:"url" json:"url,omitempty"`
	Headers     map[string]string `yaml:"headers" json:"-"`
	ReadTimeout Duration          `yaml:"readTimeout" json:"readTimeout,omitempty"`
	RetryDelay  Duration          `yaml:"retryDelay" json:"retryDelay,omitempty"`
	Command     []string          `yaml:"command" json:"command,omitempty"`
	Latitude    float64           `yaml:"latitude" json:"latitude,omitempty"`
	Longitude   float64           `yaml:"longitude" json:"longitude,omitempty"`
}

// StorageConfig represents the optional SQLite mirror
type StorageConfig struct {
	Database   string `yaml:"database"`
	BufferSize int    `yaml:"bufferSize"` // Readings held in memory before a batch write
}

// ControlConfig represents the command surfaces
type ControlConfig struct {
	Stdin  bool   `yaml:"stdin"`
	Listen string `yaml:"listen"`
}

// NewConfig returns the configuration defaults
func NewConfig() *Config {
	return &Config{
		Settings: Settings{LogLevel: slog.LevelInfo},
		Tracking: TrackingConfig{
			DataDirectory:   ".",
			Interval:        Duration(tracking.DefaultInterval),
			LocationTimeout: Duration(tracking.DefaultLocationTimeout),
			WakeLock:        WakeLockNone,
		},
		Telephony: TelephonyConfig{
			DefaultOperator: telephony.DefaultOperator,
		},
		Location: LocationConfig{
			Type:        LocationNone,
			BaudRate:    defaultBaudRate,
			ReadTimeout: Duration(defaultReadTimeout),
			RetryDelay:  Duration(defaultRetryDelay),
		},
		Storage: StorageConfig{BufferSize: defaultBufferSize},
		Control: ControlConfig{Stdin: true},
	}
}

// LoadConfig reads the YAML configuration at path. Variables from a .env file
// in the working directory or next to the configuration are loaded first and
// ${VAR} references in the file are expanded from the environment.
func LoadConfig(path string) (*Config, error) {
	loadEnv(path)

	p, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	config := NewConfig()
	if err = yaml.Unmarshal([]byte(os.ExpandEnv(string(p))), config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// loadEnv never overrides variables that are already set
func loadEnv(configPath string) {
	for _, f := range []string{".env", filepath.Join(filepath.Dir(configPath), ".env")} {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Tracking.DataDirectory == "" {
		errs = append(errs, errors.New("tracking.dataDirectory is required"))
	}
	if c.Tracking.Interval <= 0 {
		errs = append(errs, errors.New("tracking.interval must be positive"))
	}
	if c.Tracking.LocationTimeout <= 0 {
		errs = append(errs, errors.New("tracking.locationTimeout must be positive"))
	}
	switch c.Tracking.WakeLock {
	case WakeLockNone, WakeLockInhibit:
	default:
		errs = append(errs, fmt.Errorf("tracking.wakeLock: unknown type '%s'", c.Tracking.WakeLock))
	}

	slots := make(map[int]bool)
	for i, sub := range c.Telephony.Subscriptions {
		if !sub.Enabled {
			continue
		}
		if sub.Slot < survey.SlotSIM1 || sub.Slot > survey.SlotSIM2 {
			errs = append(errs, fmt.Errorf("telephony.subscriptions[%d]: slot %d out of range", i, sub.Slot))
		} else if slots[sub.Slot] {
			errs = append(errs, fmt.Errorf("telephony.subscriptions[%d]: duplicate slot %d", i, sub.Slot))
		}
		slots[sub.Slot] = true

		if !sub.Format.Valid() {
			errs = append(errs, fmt.Errorf("telephony.subscriptions[%d]: unknown format '%s'", i, sub.Format))
		}
		if len(sub.Command) == 0 {
			errs = append(errs, fmt.Errorf("telephony.subscriptions[%d]: command is required", i))
		}
		if sub.RepeatInterval < 0 {
			errs = append(errs, fmt.Errorf("telephony.subscriptions[%d]: repeatInterval must not be negative", i))
		}
	}

	switch c.Location.Type {
	case LocationNone:
	case LocationNMEA:
		if c.Location.SerialPort == "" {
			errs = append(errs, errors.New("location.serialPort is required"))
		}
		if c.Location.BaudRate <= 0 {
			errs = append(errs, errors.New("location.baudRate must be positive"))
		}
	case LocationWebSocket:
		if c.Location.URL == "" {
			errs = append(errs, errors.New("location.url is required"))
		}
	case LocationCommand:
		if len(c.Location.Command) == 0 {
			errs = append(errs, errors.New("location.command is required"))
		}
	case LocationStatic:
		if c.Location.Latitude < -90 || c.Location.Latitude > 90 || c.Location.Longitude < -180 || c.Location.Longitude > 180 {
			errs = append(errs, errors.New("location: static coordinates out of range"))
		}
	default:
		errs = append(errs, fmt.Errorf("location.type: unknown type '%s'", c.Location.Type))
	}

	if c.Storage.Database != "" && c.Storage.BufferSize <= 0 {
		errs = append(errs, errors.New("storage.bufferSize must be positive"))
	}

	if !c.Control.Stdin && c.Control.Listen == "" {
		errs = append(errs, errors.New("control: enable stdin or set listen"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Duration is a time.Duration read from strings like "2s" or "500ms"
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("duration: failed to parse '%s': %w", value.Value, err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
