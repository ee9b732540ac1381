package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadTimeout      = 60 * time.Second
)

// fixMessage is a location fix as pushed by a companion app or gpsd bridge
type fixMessage struct {
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	Accuracy  *float64   `json:"accuracy,omitempty"`
	Time      *time.Time `json:"time,omitempty"`
}

// WebSocketStream receives JSON location fixes from a WebSocket endpoint.
type WebSocketStream struct {
	url              string
	header           http.Header
	handshakeTimeout time.Duration
	readTimeout      time.Duration
}

// NewWebSocketStream creates a stream reading fixes from url. A read timeout
// of zero selects 60 seconds: a silent provider is reconnected after it.
func NewWebSocketStream(url string, header http.Header, readTimeout time.Duration) *WebSocketStream {
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	return &WebSocketStream{
		url:              url,
		header:           header,
		handshakeTimeout: defaultHandshakeTimeout,
		readTimeout:      readTimeout,
	}
}

func (s *WebSocketStream) Name() string {
	return "websocket:" + s.url
}

// Run connects to the endpoint and reports every fix until ctx is cancelled.
func (s *WebSocketStream) Run(ctx context.Context, update func(survey.Location)) error {
	dialer := &websocket.Dialer{
		HandshakeTimeout: s.handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	})
	defer func() {
		if stop() {
			_ = conn.Close()
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))

		var msg fixMessage
		if err = conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}

			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				continue // skip malformed messages
			}
			return fmt.Errorf("reading from WebSocket: %w", err)
		}

		loc, ok := msg.location()
		if !ok {
			continue
		}
		update(loc)
	}
}

func (m *fixMessage) location() (survey.Location, bool) {
	if m.Latitude == nil || m.Longitude == nil {
		return survey.Location{}, false
	}

	loc := survey.Location{
		Latitude:  *m.Latitude,
		Longitude: *m.Longitude,
		Accuracy:  m.Accuracy,
		Timestamp: time.Now().UTC(),
	}
	if m.Time != nil {
		loc.Timestamp = m.Time.UTC()
	}
	return loc, true
}
