package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"launchpad/core/events"
)

const wsWriteTimeout = 10 * time.Second

// eventFrame is the wire form of one stream entry. Cursor resumes the feed
// after a reconnect.
type eventFrame struct {
	Sequence  uint64            `json:"sequence"`
	Cursor    string            `json:"cursor"`
	Timestamp int64             `json:"timestamp"`
	Type      string            `json:"type"`
	Attrs     map[string]string `json:"attributes"`
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.stream == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamEvents(r.Context(), conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor string) error {
	updates, cancel, backlog, err := s.stream.Subscribe(ctx, cursor)
	if err != nil {
		return err
	}
	defer cancel()

	for _, entry := range backlog {
		if err := writeEventFrame(ctx, conn, entry); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEventFrame(ctx, conn, entry); err != nil {
				return err
			}
		}
	}
}

func writeEventFrame(ctx context.Context, conn *websocket.Conn, entry events.SequencedEvent) error {
	frame := eventFrame{
		Sequence:  entry.Sequence,
		Cursor:    entry.Cursor,
		Timestamp: entry.Timestamp,
	}
	if entry.Event != nil {
		frame.Type = entry.Event.Type
		frame.Attrs = entry.Event.Attributes
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
