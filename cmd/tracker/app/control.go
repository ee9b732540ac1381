package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/roman-kulish/dbm-tracker/internal/tracking"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = pongTimeout * 9 / 10
)

// ReadCommands applies one command per line read from r until r is exhausted
// or ctx is cancelled.
func ReadCommands(ctx context.Context, r io.Reader, svc *Service, logger *slog.Logger) error {
	lines := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errCh:
					return err
				default:
					return nil
				}
			}
			if strings.TrimSpace(line) == "" {
				continue
			}

			cmd, err := tracking.ParseCommand(line)
			if err != nil {
				logger.Warn(err.Error())
				continue
			}

			status, err := svc.Handle(ctx, cmd)
			if err != nil {
				logger.Error("command failed", slog.String("command", cmd.String()), slog.Any("error", err))
				continue
			}
			logger.Info("command applied", slog.String("command", cmd.String()), slog.String("state", status.State.String()))
		}
	}
}

type controlAPI struct {
	svc      *Service
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewRouter creates the HTTP control API
func NewRouter(svc *Service, logger *slog.Logger) *mux.Router {
	api := controlAPI{
		svc:    svc,
		logger: logger.With(slog.String("component", "control")),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintln(w, "OK")
	}).Methods(http.MethodGet)
	r.HandleFunc("/state", api.state).Methods(http.MethodGet)
	r.HandleFunc("/commands/{command}", api.command).Methods(http.MethodPost)
	r.HandleFunc("/events", api.events).Methods(http.MethodGet)
	return r
}

func (a *controlAPI) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Status())
}

func (a *controlAPI) command(w http.ResponseWriter, r *http.Request) {
	cmd, err := tracking.ParseCommand(mux.Vars(r)["command"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	status, err := a.svc.Handle(r.Context(), cmd)
	if err != nil {
		a.logger.Error("command failed", slog.String("command", cmd.String()), slog.Any("error", err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (a *controlAPI) events(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // upgrader replied with an error
	}
	defer conn.Close()

	events, unsubscribe := a.svc.Subscribe()
	defer unsubscribe()

	// drain control frames so close and pong are processed
	closed := make(chan struct{})
	go func() {
		defer close(closed)

		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	status := a.svc.Status()
	if err = a.send(conn, Event{State: status.State, Time: status.Time}); err != nil {
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ping.C:
			if err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			if err = a.send(conn, e); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					a.logger.Debug("error sending event", slog.Any("error", err))
				}
				return
			}
		}
	}
}

func (a *controlAPI) send(conn *websocket.Conn, e Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(e)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
