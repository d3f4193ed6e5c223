package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"launchpad/observability/metrics"
)

// eventFrame mirrors the node's /ws/events wire format.
type eventFrame struct {
	Sequence  uint64            `json:"sequence"`
	Cursor    string            `json:"cursor"`
	Timestamp int64             `json:"timestamp"`
	Type      string            `json:"type"`
	Attrs     map[string]string `json:"attributes"`
}

// Tailer streams the node's event feed into the SQLite store, resuming from
// the persisted cursor after every reconnect.
type Tailer struct {
	store        *SQLiteStore
	wsURL        string
	dialTimeout  time.Duration
	reconnectMin time.Duration
	reconnectMax time.Duration
	logger       *slog.Logger
	nowFn        func() time.Time
}

// NewTailer constructs a tailer over the supplied store and feed settings.
func NewTailer(store *SQLiteStore, node NodeConfig, logger *slog.Logger) *Tailer {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tailer{
		store:        store,
		wsURL:        strings.TrimSpace(node.WSURL),
		dialTimeout:  node.DialTimeout.Duration,
		reconnectMin: node.ReconnectMin.Duration,
		reconnectMax: node.ReconnectMax.Duration,
		logger:       logger,
		nowFn:        time.Now,
	}
	if t.dialTimeout <= 0 {
		t.dialTimeout = 10 * time.Second
	}
	if t.reconnectMin <= 0 {
		t.reconnectMin = time.Second
	}
	if t.reconnectMax < t.reconnectMin {
		t.reconnectMax = 30 * time.Second
	}
	return t
}

// Run tails the feed until the context is cancelled, reconnecting with
// exponential backoff after a dropped connection.
func (t *Tailer) Run(ctx context.Context) error {
	backoff := t.reconnectMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		connected, err := t.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = t.reconnectMin
		}
		if err != nil {
			t.logger.Warn("event feed interrupted",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > t.reconnectMax {
			backoff = t.reconnectMax
		}
	}
}

// consume dials the feed from the stored cursor and applies frames until the
// connection drops. The returned bool reports whether the dial succeeded.
func (t *Tailer) consume(ctx context.Context) (bool, error) {
	since, err := t.store.Cursor(ctx)
	if err != nil {
		return false, fmt.Errorf("load cursor: %w", err)
	}
	feedURL, err := t.feedURL(since)
	if err != nil {
		return false, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, feedURL, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial event feed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "tailer stopped")

	metrics.Index().IncReconnect()
	t.logger.Info("event feed connected", slog.Uint64("cursor", since))
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}
		var frame eventFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.logger.Warn("skipping undecodable frame", slog.String("error", err.Error()))
			continue
		}
		if frame.Sequence <= since {
			continue
		}
		recordedAt := time.Unix(frame.Timestamp, 0).UTC()
		if frame.Timestamp == 0 {
			recordedAt = t.nowFn().UTC()
		}
		stored := StoredEvent{
			Sequence:   frame.Sequence,
			Type:       frame.Type,
			Attributes: frame.Attrs,
			RecordedAt: recordedAt,
		}
		if err := t.store.ApplyFrame(ctx, stored); err != nil {
			return true, fmt.Errorf("apply frame %d: %w", frame.Sequence, err)
		}
		since = frame.Sequence
		metrics.Index().ObserveEvent(frame.Type)
		metrics.Index().SetCursor(frame.Sequence)
	}
}

func (t *Tailer) feedURL(since uint64) (string, error) {
	parsed, err := url.Parse(t.wsURL)
	if err != nil {
		return "", fmt.Errorf("parse ws url: %w", err)
	}
	if since > 0 {
		query := parsed.Query()
		query.Set("cursor", strconv.FormatUint(since, 10))
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func parseUint(raw string) uint64 {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}
	v, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func amountOrZero(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "0"
	}
	return trimmed
}
