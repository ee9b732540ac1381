package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roman-kulish/dbm-tracker/internal/tracking"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func decodeStatus(t *testing.T, resp *http.Response) Status {
	t.Helper()

	var body struct {
		State     string `json:"state"`
		SessionID string `json:"sessionId"`
		Rows      int64  `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}

	st := Status{}
	st.SessionID = body.SessionID
	st.Rows = body.Rows
	for _, s := range []tracking.State{tracking.Stopped, tracking.Running, tracking.Paused, tracking.Terminated} {
		if s.String() == body.State {
			st.State = s
		}
	}
	return st
}

func TestRouter_Commands(t *testing.T) {
	svc := newTestService(t, t.TempDir())
	srv := httptest.NewServer(NewRouter(svc, discardLogger))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "OK" {
		t.Errorf("Unexpected health response %d %q", resp.StatusCode, body)
	}

	testCases := []struct {
		method string
		path   string
		code   int
		state  tracking.State
	}{
		{method: http.MethodGet, path: "/state", code: http.StatusOK, state: tracking.Stopped},
		{method: http.MethodPost, path: "/commands/stop", code: http.StatusOK, state: tracking.Stopped},
		{method: http.MethodPost, path: "/commands/start", code: http.StatusOK, state: tracking.Running},
		{method: http.MethodPost, path: "/commands/PAUSE", code: http.StatusOK, state: tracking.Paused},
		{method: http.MethodPost, path: "/commands/restart", code: http.StatusBadRequest},
		{method: http.MethodGet, path: "/commands/resume", code: http.StatusMethodNotAllowed},
		{method: http.MethodGet, path: "/state", code: http.StatusOK, state: tracking.Paused},
		{method: http.MethodPost, path: "/commands/resume", code: http.StatusOK, state: tracking.Running},
		{method: http.MethodPost, path: "/commands/stop", code: http.StatusOK, state: tracking.Terminated},
	}

	for _, tc := range testCases {
		req, err := http.NewRequest(tc.method, srv.URL+tc.path, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s failed: %v", tc.method, tc.path, err)
		}

		if resp.StatusCode != tc.code {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.path, tc.code, resp.StatusCode)
		} else if tc.code == http.StatusOK {
			if st := decodeStatus(t, resp); st.State != tc.state {
				t.Errorf("%s %s: expected state %s, got %s", tc.method, tc.path, tc.state, st.State)
			}
		}
		resp.Body.Close()
	}
}

func TestRouter_StartFailure(t *testing.T) {
	svc := NewService(func(listener func(tracking.State)) *tracking.Controller {
		return tracking.NewController(nil, nil, tracking.WithSinkOpener(func(string, time.Time) (tracking.Sink, error) {
			return nil, io.ErrClosedPipe
		}))
	})
	srv := httptest.NewServer(NewRouter(svc, discardLogger))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/commands/start", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", resp.StatusCode)
	}
	if svc.Status().State != tracking.Stopped {
		t.Errorf("Expected stopped, got %s", svc.Status().State)
	}
}

func TestRouter_Events(t *testing.T) {
	svc := newTestService(t, t.TempDir())
	srv := httptest.NewServer(NewRouter(svc, discardLogger))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/events", nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	readEvent := func() map[string]any {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var e map[string]any
		if err := conn.ReadJSON(&e); err != nil {
			t.Fatalf("Failed to read event: %v", err)
		}
		return e
	}

	if e := readEvent(); e["state"] != "stopped" {
		t.Errorf("Expected initial stopped event, got %v", e)
	}

	if _, err = svc.Handle(context.Background(), tracking.CommandStart); err != nil {
		t.Fatal(err)
	}
	if e := readEvent(); e["state"] != "running" || e["time"] == nil {
		t.Errorf("Expected running event, got %v", e)
	}

	if _, err = svc.Handle(context.Background(), tracking.CommandStop); err != nil {
		t.Fatal(err)
	}
	if e := readEvent(); e["state"] != "terminated" {
		t.Errorf("Expected terminated event, got %v", e)
	}
}

func TestReadCommands(t *testing.T) {
	svc := newTestService(t, t.TempDir())

	input := strings.NewReader("start\n\n  pause \nfly\nresume\nstop\nstart\n")
	if err := ReadCommands(context.Background(), input, svc, discardLogger); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if st := svc.Status().State; st != tracking.Running {
		t.Errorf("Expected a new running session, got %s", st)
	}
}
