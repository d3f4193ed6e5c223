package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// cursorFeed names the event_cursors row tracking the websocket feed.
const cursorFeed = "feed"

// SQLiteStore materialises the node's event feed for off-chain queries.
// Every frame lands in the raw events table; purchase and referral frames
// additionally populate typed tables so common lookups avoid JSON parsing.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY,
            type TEXT NOT NULL,
            attributes TEXT NOT NULL,
            recorded_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS events_type_idx ON events(type, sequence);`,
		`CREATE TABLE IF NOT EXISTS event_cursors (
            name TEXT PRIMARY KEY,
            value INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS contributions (
            sequence INTEGER PRIMARY KEY,
            buyer TEXT NOT NULL,
            stage_id INTEGER NOT NULL,
            stable_amount TEXT NOT NULL,
            asset TEXT,
            amount_in TEXT,
            recorded_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS contributions_buyer_idx ON contributions(buyer, sequence);`,
		`CREATE INDEX IF NOT EXISTS contributions_stage_idx ON contributions(stage_id, sequence);`,
		`CREATE TABLE IF NOT EXISTS referral_rewards (
            sequence INTEGER PRIMARY KEY,
            referrer TEXT NOT NULL,
            referred TEXT NOT NULL,
            level INTEGER NOT NULL,
            base TEXT NOT NULL,
            earned TEXT NOT NULL,
            recorded_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS referral_rewards_referrer_idx ON referral_rewards(referrer, sequence);`,
		`CREATE TABLE IF NOT EXISTS referral_claims (
            sequence INTEGER PRIMARY KEY,
            account TEXT NOT NULL,
            amount TEXT NOT NULL,
            recorded_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS referral_claims_account_idx ON referral_claims(account, sequence);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StoredEvent represents one feed frame persisted to SQLite.
type StoredEvent struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// ApplyFrame persists a feed frame and advances the cursor in a single
// transaction. Replayed sequences overwrite their original rows, so resuming
// from an older cursor cannot double-count.
func (s *SQLiteStore) ApplyFrame(ctx context.Context, evt StoredEvent) error {
	payload, err := json.Marshal(evt.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const insertEvent = `INSERT OR REPLACE INTO events(sequence, type, attributes, recorded_at) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertEvent, evt.Sequence, evt.Type, string(payload), evt.RecordedAt); err != nil {
		return err
	}
	if err := s.applyTyped(ctx, tx, evt); err != nil {
		return err
	}
	const upsertCursor = `INSERT INTO event_cursors(name, value) VALUES(?, ?) ON CONFLICT(name) DO UPDATE SET value = MAX(value, excluded.value)`
	if _, err := tx.ExecContext(ctx, upsertCursor, cursorFeed, evt.Sequence); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) applyTyped(ctx context.Context, tx *sql.Tx, evt StoredEvent) error {
	attrs := evt.Attributes
	switch evt.Type {
	case "sale.contribution.recorded":
		const stmt = `INSERT OR REPLACE INTO contributions(sequence, buyer, stage_id, stable_amount, asset, amount_in, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
		_, err := tx.ExecContext(ctx, stmt,
			evt.Sequence,
			attrs["buyer"],
			parseUint(attrs["stage_id"]),
			amountOrZero(attrs["stable_amount"]),
			attrs["asset"],
			amountOrZero(attrs["amount_in"]),
			evt.RecordedAt)
		return err
	case "referral.credited":
		const stmt = `INSERT OR REPLACE INTO referral_rewards(sequence, referrer, referred, level, base, earned, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
		_, err := tx.ExecContext(ctx, stmt,
			evt.Sequence,
			attrs["referrer"],
			attrs["referred"],
			parseUint(attrs["level"]),
			amountOrZero(attrs["base"]),
			amountOrZero(attrs["earned"]),
			evt.RecordedAt)
		return err
	case "referral.claimed":
		const stmt = `INSERT OR REPLACE INTO referral_claims(sequence, account, amount, recorded_at) VALUES (?, ?, ?, ?)`
		_, err := tx.ExecContext(ctx, stmt,
			evt.Sequence,
			attrs["user"],
			amountOrZero(attrs["amount"]),
			evt.RecordedAt)
		return err
	default:
		// Stage lifecycle, market and gate frames stay in the raw table only.
		return nil
	}
}

// Cursor returns the highest feed sequence applied so far.
func (s *SQLiteStore) Cursor(ctx context.Context) (uint64, error) {
	const query = `SELECT value FROM event_cursors WHERE name = ?`
	row := s.db.QueryRowContext(ctx, query, cursorFeed)
	var value uint64
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return value, nil
}

// EventsSince returns raw events after the supplied sequence, oldest first.
// An empty eventType matches every type.
func (s *SQLiteStore) EventsSince(ctx context.Context, after uint64, eventType string, limit int) ([]StoredEvent, error) {
	query := `SELECT sequence, type, attributes, recorded_at FROM events WHERE sequence > ?`
	args := []interface{}{after}
	if eventType != "" {
		query += ` AND type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY sequence ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []StoredEvent
	for rows.Next() {
		var evt StoredEvent
		var payload string
		if err := rows.Scan(&evt.Sequence, &evt.Type, &payload, &evt.RecordedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &evt.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes for %d: %w", evt.Sequence, err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// ContributionRow is a materialised purchase record.
type ContributionRow struct {
	Sequence     uint64    `json:"sequence"`
	Buyer        string    `json:"buyer"`
	StageID      uint64    `json:"stageId"`
	StableAmount string    `json:"stableAmount"`
	Asset        string    `json:"asset,omitempty"`
	AmountIn     string    `json:"amountIn,omitempty"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// ContributionsByBuyer returns a buyer's purchases, newest first.
func (s *SQLiteStore) ContributionsByBuyer(ctx context.Context, buyer string, limit int) ([]ContributionRow, error) {
	const query = `SELECT sequence, buyer, stage_id, stable_amount, asset, amount_in, recorded_at FROM contributions WHERE buyer = ? ORDER BY sequence DESC LIMIT ?`
	return s.queryContributions(ctx, query, buyer, limit)
}

// ContributionsByStage returns a stage's purchases, newest first.
func (s *SQLiteStore) ContributionsByStage(ctx context.Context, stageID uint64, limit int) ([]ContributionRow, error) {
	const query = `SELECT sequence, buyer, stage_id, stable_amount, asset, amount_in, recorded_at FROM contributions WHERE stage_id = ? ORDER BY sequence DESC LIMIT ?`
	return s.queryContributions(ctx, query, stageID, limit)
}

func (s *SQLiteStore) queryContributions(ctx context.Context, query string, key interface{}, limit int) ([]ContributionRow, error) {
	rows, err := s.db.QueryContext(ctx, query, key, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ContributionRow
	for rows.Next() {
		var row ContributionRow
		var asset, amountIn sql.NullString
		if err := rows.Scan(&row.Sequence, &row.Buyer, &row.StageID, &row.StableAmount, &asset, &amountIn, &row.RecordedAt); err != nil {
			return nil, err
		}
		row.Asset = asset.String
		row.AmountIn = amountIn.String
		out = append(out, row)
	}
	return out, rows.Err()
}

// StageTotal aggregates the mirrored contributions of one stage.
type StageTotal struct {
	StageID uint64 `json:"stageId"`
	Total   string `json:"total"`
	Count   int    `json:"count"`
}

// StageTotals sums mirrored contributions per stage. Amounts are decimal
// strings beyond SQLite's integer range, so the summing happens in Go.
func (s *SQLiteStore) StageTotals(ctx context.Context) ([]StageTotal, error) {
	const query = `SELECT stage_id, stable_amount FROM contributions ORDER BY stage_id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[uint64]*big.Int)
	counts := make(map[uint64]int)
	order := make([]uint64, 0)
	for rows.Next() {
		var stageID uint64
		var amount string
		if err := rows.Scan(&stageID, &amount); err != nil {
			return nil, err
		}
		total, ok := totals[stageID]
		if !ok {
			total = big.NewInt(0)
			totals[stageID] = total
			order = append(order, stageID)
		}
		if value, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10); ok {
			total.Add(total, value)
		}
		counts[stageID]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]StageTotal, 0, len(order))
	for _, id := range order {
		out = append(out, StageTotal{StageID: id, Total: totals[id].String(), Count: counts[id]})
	}
	return out, nil
}

// RewardRow is a materialised referral accrual.
type RewardRow struct {
	Sequence   uint64    `json:"sequence"`
	Referrer   string    `json:"referrer"`
	Referred   string    `json:"referred"`
	Level      int       `json:"level"`
	Base       string    `json:"base"`
	Earned     string    `json:"earned"`
	RecordedAt time.Time `json:"recordedAt"`
}

// RewardsByReferrer returns a referrer's accruals, newest first.
func (s *SQLiteStore) RewardsByReferrer(ctx context.Context, referrer string, limit int) ([]RewardRow, error) {
	const query = `SELECT sequence, referrer, referred, level, base, earned, recorded_at FROM referral_rewards WHERE referrer = ? ORDER BY sequence DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, referrer, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RewardRow
	for rows.Next() {
		var row RewardRow
		if err := rows.Scan(&row.Sequence, &row.Referrer, &row.Referred, &row.Level, &row.Base, &row.Earned, &row.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ClaimRow is a materialised referral withdrawal.
type ClaimRow struct {
	Sequence   uint64    `json:"sequence"`
	Account    string    `json:"account"`
	Amount     string    `json:"amount"`
	RecordedAt time.Time `json:"recordedAt"`
}

// ClaimsByAccount returns an account's withdrawals, newest first.
func (s *SQLiteStore) ClaimsByAccount(ctx context.Context, account string, limit int) ([]ClaimRow, error) {
	const query = `SELECT sequence, account, amount, recorded_at FROM referral_claims WHERE account = ? ORDER BY sequence DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ClaimRow
	for rows.Next() {
		var row ClaimRow
		if err := rows.Scan(&row.Sequence, &row.Account, &row.Amount, &row.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
