package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/roman-kulish/dbm-tracker/internal/location"
	"github.com/roman-kulish/dbm-tracker/internal/power"
	"github.com/roman-kulish/dbm-tracker/internal/storage"
	"github.com/roman-kulish/dbm-tracker/internal/telephony"
	"github.com/roman-kulish/dbm-tracker/internal/tracking"
)

const shutdownTimeout = 5 * time.Second

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	store, recorder, err := createStorage(config, logger)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	signals, err := createSignalSource(&config.Telephony, logger)
	if err != nil {
		return fmt.Errorf("failed to create signal source: %w", err)
	}

	locations, sources, err := createLocationSource(&config.Location, config.Tracking.LocationTimeout.Duration(), logger)
	if err != nil {
		return fmt.Errorf("failed to create location source: %w", err)
	}
	sources = append(sources, signals)

	lock := createWakeLock(config.Tracking.WakeLock, logger)
	gate := devicePermissionGate(&config.Location, logger)

	svc := NewService(func(listener func(tracking.State)) *tracking.Controller {
		opts := []func(c *tracking.Controller){
			tracking.WithLogger(logger),
			tracking.WithInterval(config.Tracking.Interval.Duration()),
			tracking.WithLocationTimeout(config.Tracking.LocationTimeout.Duration()),
			tracking.WithDataDirectory(config.Tracking.DataDirectory),
			tracking.WithDefaultOperator(config.Telephony.DefaultOperator),
			tracking.WithSources(sources...),
			tracking.WithWakeLock(lock),
			tracking.WithPermissionGate(gate),
			tracking.WithStateListener(listener),
		}
		if recorder != nil {
			opts = append(opts, tracking.WithRecorder(recorder))
		}
		return tracking.NewController(signals, locations, opts...)
	})
	defer svc.Shutdown(context.WithoutCancel(ctx))

	errCh := make(chan error, 1)

	if config.Control.Listen != "" {
		srv := &http.Server{
			Addr:              config.Control.Listen,
			Handler:           NewRouter(svc, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			logger.Info("control API listening", slog.String("address", config.Control.Listen))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serving control API: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// without the API, the end of input ends the process
	var inputDone chan struct{}
	if config.Control.Stdin {
		done := make(chan struct{})
		if config.Control.Listen == "" {
			inputDone = done
		}

		go func() {
			defer close(done)
			if err := ReadCommands(ctx, os.Stdin, svc, logger); err != nil {
				logger.Error("error reading commands", slog.Any("error", err))
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case <-inputDone:
		return nil
	case err = <-errCh:
		return err
	}
}

func createStorage(config *Config, logger *slog.Logger) (*storage.SqliteStore, *storage.BufferedRecorder, error) {
	if config.Storage.Database == "" {
		return nil, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(config.Storage.Database), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating storage directory: %w", err)
	}

	store := storage.NewSqliteStore(config.Storage.Database, storage.WithSessionConfig(config))
	recorder, err := storage.NewBufferedRecorder(store,
		storage.WithLogger(logger),
		storage.WithBuffer(config.Storage.BufferSize, config.Storage.BufferSize))
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, recorder, nil
}

func createSignalSource(config *TelephonyConfig, logger *slog.Logger) (*telephony.Source, error) {
	var modems []*telephony.Modem
	for _, sub := range config.Subscriptions {
		if !sub.Enabled {
			continue
		}

		handler, err := telephony.NewHandler(sub.Format, sub.Command)
		if errors.Is(err, telephony.ErrRuntimeNotFound) {
			logger.Warn("subscription skipped", slog.Int("slot", sub.Slot), slog.Any("error", err))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("creating handler for slot %d: %w", sub.Slot, err)
		}

		opts := []func(m *telephony.Modem){telephony.WithModemLogger(logger)}
		if sub.RepeatInterval > 0 {
			opts = append(opts, telephony.WithRepeatInterval(sub.RepeatInterval.Duration()))
		}
		if sub.ParseErrorsThreshold > 0 {
			opts = append(opts, telephony.WithParseErrorsThreshold(sub.ParseErrorsThreshold))
		}

		modems = append(modems, telephony.NewModem(sub.Slot, sub.Operator, handler, opts...))
	}

	return telephony.NewSource(
		telephony.WithDefaultOperator(config.DefaultOperator),
		telephony.WithLogger(logger),
		telephony.WithSubscriptions(modems...),
	), nil
}

func createLocationSource(config *LocationConfig, timeout time.Duration, logger *slog.Logger) (tracking.LocationReader, []tracking.Source, error) {
	var stream location.Stream

	switch config.Type {
	case LocationNone:
		return location.NewCache(), nil, nil

	case LocationStatic:
		return location.NewStatic(config.Latitude, config.Longitude), nil, nil

	case LocationCommand:
		fetch, err := location.CommandFetcher(config.Command)
		if err != nil {
			return nil, nil, err
		}
		return location.NewPoller(fetch, location.WithPollerLogger(logger), location.WithTimeout(timeout)), nil, nil

	case LocationNMEA:
		stream = location.NewNMEAStream(config.SerialPort, config.BaudRate)

	case LocationWebSocket:
		header := make(http.Header)
		for k, v := range config.Headers {
			header.Set(k, v)
		}
		stream = location.NewWebSocketStream(config.URL, header, config.ReadTimeout.Duration())

	default:
		return nil, nil, fmt.Errorf("unknown type '%s'", config.Type)
	}

	feed := location.NewFeed(stream,
		location.WithLogger(logger),
		location.WithRetryDelay(config.RetryDelay.Duration()))

	return feed, []tracking.Source{feed}, nil
}

func createWakeLock(lockType WakeLockType, logger *slog.Logger) tracking.WakeLock {
	if lockType == WakeLockInhibit {
		lock, err := power.NewInhibitLock(power.WithLogger(logger))
		if err == nil {
			return lock
		}
		logger.Warn("wake lock unavailable, host may suspend while tracking", slog.Any("error", err))
	}
	return &power.NopLock{}
}

// devicePermissionGate grants sampling when the location device can be opened
func devicePermissionGate(config *LocationConfig, logger *slog.Logger) tracking.PermissionGate {
	return func() bool {
		if config.Type != LocationNMEA {
			return true
		}

		f, err := os.OpenFile(config.SerialPort, os.O_RDWR, 0)
		if err != nil {
			logger.Warn("no access to location device", slog.String("port", config.SerialPort), slog.Any("error", err))
			return false
		}
		_ = f.Close()
		return true
	}
}
