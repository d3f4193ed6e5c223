package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"nhooyr.io/websocket"

	"launchpad/services/reportd/models"
)

// eventFrame mirrors the node's /ws/events wire format.
type eventFrame struct {
	Sequence  uint64            `json:"sequence"`
	Cursor    string            `json:"cursor"`
	Timestamp int64             `json:"timestamp"`
	Type      string            `json:"type"`
	Attrs     map[string]string `json:"attributes"`
}

// Config wires the collector to the node feed and the report database.
type Config struct {
	DB           *gorm.DB
	WSURL        string
	DialTimeout  time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Collector tails the node's event feed and mirrors purchase and referral
// activity into the report database. The feed cursor is persisted after
// every frame so a restart resumes where the previous run stopped.
type Collector struct {
	db           *gorm.DB
	wsURL        string
	dialTimeout  time.Duration
	reconnectMin time.Duration
	reconnectMax time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// New validates the configuration and constructs a Collector.
func New(cfg Config) (*Collector, error) {
	if cfg.DB == nil {
		return nil, errors.New("collector: db is required")
	}
	if strings.TrimSpace(cfg.WSURL) == "" {
		return nil, errors.New("collector: ws url is required")
	}
	c := &Collector{
		db:           cfg.DB,
		wsURL:        strings.TrimSpace(cfg.WSURL),
		dialTimeout:  cfg.DialTimeout,
		reconnectMin: cfg.ReconnectMin,
		reconnectMax: cfg.ReconnectMax,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
	if c.dialTimeout <= 0 {
		c.dialTimeout = 10 * time.Second
	}
	if c.reconnectMin <= 0 {
		c.reconnectMin = time.Second
	}
	if c.reconnectMax < c.reconnectMin {
		c.reconnectMax = 30 * time.Second
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Run tails the feed until the context is cancelled, reconnecting with
// exponential backoff after a dropped connection.
func (c *Collector) Run(ctx context.Context) error {
	backoff := c.reconnectMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		connected, err := c.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.reconnectMin
		}
		if err != nil {
			c.logger.Warn("event feed interrupted",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.reconnectMax {
			backoff = c.reconnectMax
		}
	}
}

// consume dials the feed from the stored cursor and applies frames until the
// connection drops. The returned bool reports whether the dial succeeded.
func (c *Collector) consume(ctx context.Context) (bool, error) {
	since, err := c.Checkpoint(ctx)
	if err != nil {
		return false, fmt.Errorf("load checkpoint: %w", err)
	}
	feedURL, err := c.feedURL(since)
	if err != nil {
		return false, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, feedURL, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial event feed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "collector stopped")

	c.logger.Info("event feed connected", slog.Uint64("cursor", since))
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}
		var frame eventFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("skipping undecodable frame", slog.String("error", err.Error()))
			continue
		}
		if frame.Sequence <= since {
			continue
		}
		if err := c.apply(ctx, frame); err != nil {
			return true, fmt.Errorf("apply frame %d: %w", frame.Sequence, err)
		}
		since = frame.Sequence
	}
}

// apply mirrors one frame into the database and advances the checkpoint in
// the same transaction. Frames already present by sequence are skipped so a
// replayed backlog cannot double-count.
func (c *Collector) apply(ctx context.Context, frame eventFrame) error {
	recordedAt := time.Unix(frame.Timestamp, 0).UTC()
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch frame.Type {
		case "sale.contribution.recorded":
			exists, err := sequenceExists(tx, &models.Contribution{}, frame.Sequence)
			if err != nil {
				return err
			}
			if !exists {
				row := models.Contribution{
					ID:           uuid.New(),
					Sequence:     frame.Sequence,
					Buyer:        frame.Attrs["buyer"],
					StageID:      parseUint(frame.Attrs["stage_id"]),
					StableAmount: amountOrZero(frame.Attrs["stable_amount"]),
					Asset:        frame.Attrs["asset"],
					AmountIn:     amountOrZero(frame.Attrs["amount_in"]),
					RecordedAt:   recordedAt,
				}
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
			}
		case "referral.credited":
			exists, err := sequenceExists(tx, &models.RewardCredit{}, frame.Sequence)
			if err != nil {
				return err
			}
			if !exists {
				row := models.RewardCredit{
					ID:         uuid.New(),
					Sequence:   frame.Sequence,
					Referrer:   frame.Attrs["referrer"],
					Referred:   frame.Attrs["referred"],
					Level:      int(parseUint(frame.Attrs["level"])),
					Base:       amountOrZero(frame.Attrs["base"]),
					Earned:     amountOrZero(frame.Attrs["earned"]),
					RecordedAt: recordedAt,
				}
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
			}
		case "referral.claimed":
			exists, err := sequenceExists(tx, &models.RewardClaim{}, frame.Sequence)
			if err != nil {
				return err
			}
			if !exists {
				row := models.RewardClaim{
					ID:         uuid.New(),
					Sequence:   frame.Sequence,
					Account:    frame.Attrs["user"],
					Amount:     amountOrZero(frame.Attrs["amount"]),
					RecordedAt: recordedAt,
				}
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
			}
		default:
			// Stage lifecycle and gate frames only advance the cursor.
		}
		return advanceCheckpoint(tx, frame.Sequence, c.now().UTC())
	})
}

// Checkpoint returns the last applied feed sequence.
func (c *Collector) Checkpoint(ctx context.Context) (uint64, error) {
	var row models.Checkpoint
	err := c.db.WithContext(ctx).First(&row, "name = ?", models.CheckpointEvents).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Sequence, nil
}

func (c *Collector) feedURL(since uint64) (string, error) {
	parsed, err := url.Parse(c.wsURL)
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

func sequenceExists(tx *gorm.DB, model interface{}, sequence uint64) (bool, error) {
	err := tx.First(model, "sequence = ?", sequence).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func advanceCheckpoint(tx *gorm.DB, sequence uint64, updatedAt time.Time) error {
	var row models.Checkpoint
	err := tx.First(&row, "name = ?", models.CheckpointEvents).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = models.Checkpoint{Name: models.CheckpointEvents, Sequence: sequence, UpdatedAt: updatedAt}
		return tx.Create(&row).Error
	case err != nil:
		return err
	}
	if sequence <= row.Sequence {
		return nil
	}
	row.Sequence = sequence
	row.UpdatedAt = updatedAt
	return tx.Save(&row).Error
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
