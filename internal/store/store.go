// Package store keeps an append-only SQLite journal of watch ticks and message deliveries.
// Nothing in it is used to rebuild watch state.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var errNotInitialized = errors.New("store is not initialized")

type Store struct {
	db *sqlx.DB
}

// TickInput describes one finished poll of the feed for a subscriber.
type TickInput struct {
	ID         string
	ChatID     int64
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	New        int
	Err        string
}

// DeliveryInput describes one attempted message send.
type DeliveryInput struct {
	TickID      string
	ChatID      int64
	ItemID      string
	Title       string
	Link        string
	MediaURL    string
	DeliveredAt time.Time
	Err         string
}

// Delivery is a journaled send attempt.
type Delivery struct {
	ID          int64
	TickID      string
	ChatID      int64
	ItemID      string
	Title       string
	Link        string
	MediaURL    string
	DeliveredAt time.Time
	Err         string
}

// DeliveryFilter narrows Deliveries. Zero values mean no filter; Limit <= 0 means 20.
type DeliveryFilter struct {
	ChatID     int64
	FailedOnly bool
	Limit      int
}

// TickStats summarizes ticks since a point in time.
type TickStats struct {
	Total    int       `db:"total"`
	Failed   int       `db:"failed"`
	NewItems int       `db:"new_items"`
	LastTick time.Time `db:"-"`
}

type tickRow struct {
	ID         string         `db:"id"`
	ChatID     int64          `db:"chat_id"`
	StartedAt  string         `db:"started_at"`
	FinishedAt string         `db:"finished_at"`
	Fetched    int            `db:"fetched"`
	NewItems   int            `db:"new_items"`
	Error      sql.NullString `db:"error"`
}

type deliveryRow struct {
	ID          int64          `db:"id"`
	TickID      string         `db:"tick_id"`
	ChatID      int64          `db:"chat_id"`
	ItemID      string         `db:"item_id"`
	Title       string         `db:"title"`
	Link        string         `db:"link"`
	MediaURL    string         `db:"media_url"`
	DeliveredAt string         `db:"delivered_at"`
	Error       sql.NullString `db:"error"`
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Ticks from different subscribers write concurrently; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) RecordTick(ctx context.Context, in TickInput) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if strings.TrimSpace(in.ID) == "" {
		return errors.New("tick id is required")
	}
	if in.StartedAt.IsZero() {
		return errors.New("started_at is required")
	}

	row := tickRow{
		ID:         in.ID,
		ChatID:     in.ChatID,
		StartedAt:  formatTime(in.StartedAt),
		FinishedAt: formatTime(in.FinishedAt),
		Fetched:    in.Fetched,
		NewItems:   in.New,
		Error:      nullString(in.Err),
	}

	const q = `
		INSERT INTO ticks (id, chat_id, started_at, finished_at, fetched, new_items, error)
		VALUES (:id, :chat_id, :started_at, :finished_at, :fetched, :new_items, :error)`
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("record tick: %w", err)
	}
	return nil
}

func (s *Store) RecordDelivery(ctx context.Context, in DeliveryInput) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if strings.TrimSpace(in.ItemID) == "" {
		return errors.New("item_id is required")
	}
	if in.DeliveredAt.IsZero() {
		return errors.New("delivered_at is required")
	}

	row := deliveryRow{
		TickID:      in.TickID,
		ChatID:      in.ChatID,
		ItemID:      in.ItemID,
		Title:       in.Title,
		Link:        in.Link,
		MediaURL:    in.MediaURL,
		DeliveredAt: formatTime(in.DeliveredAt),
		Error:       nullString(in.Err),
	}

	const q = `
		INSERT INTO deliveries (tick_id, chat_id, item_id, title, link, media_url, delivered_at, error)
		VALUES (:tick_id, :chat_id, :item_id, :title, :link, :media_url, :delivered_at, :error)`
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// Deliveries returns journaled sends, newest first.
func (s *Store) Deliveries(ctx context.Context, f DeliveryFilter) ([]Delivery, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	b := sq.Select("id", "tick_id", "chat_id", "item_id", "title", "link", "media_url", "delivered_at", "error").
		From("deliveries").
		OrderBy("delivered_at DESC", "id DESC").
		Limit(uint64(limit))
	if f.ChatID != 0 {
		b = b.Where(sq.Eq{"chat_id": f.ChatID})
	}
	if f.FailedOnly {
		b = b.Where(sq.NotEq{"error": nil})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build deliveries query: %w", err)
	}

	var rows []deliveryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select deliveries: %w", err)
	}

	out := make([]Delivery, 0, len(rows))
	for _, r := range rows {
		at, err := parseTime(r.DeliveredAt)
		if err != nil {
			return nil, fmt.Errorf("parse delivered_at: %w", err)
		}
		out = append(out, Delivery{
			ID:          r.ID,
			TickID:      r.TickID,
			ChatID:      r.ChatID,
			ItemID:      r.ItemID,
			Title:       r.Title,
			Link:        r.Link,
			MediaURL:    r.MediaURL,
			DeliveredAt: at,
			Err:         r.Error.String,
		})
	}
	return out, nil
}

// TickStats counts ticks started at or after since.
func (s *Store) TickStats(ctx context.Context, since time.Time) (TickStats, error) {
	if s == nil || s.db == nil {
		return TickStats{}, errNotInitialized
	}

	const q = `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN error IS NOT NULL THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(new_items), 0) AS new_items
		FROM ticks
		WHERE started_at >= ?`

	var stats TickStats
	if err := s.db.GetContext(ctx, &stats, q, formatTime(since)); err != nil {
		return TickStats{}, fmt.Errorf("tick stats: %w", err)
	}

	var last sql.NullString
	if err := s.db.GetContext(ctx, &last, "SELECT MAX(started_at) FROM ticks"); err != nil {
		return TickStats{}, fmt.Errorf("last tick: %w", err)
	}
	if last.Valid {
		ts, err := parseTime(last.String)
		if err != nil {
			return TickStats{}, fmt.Errorf("parse last tick: %w", err)
		}
		stats.LastTick = ts
	}

	return stats, nil
}

// PruneOld deletes ticks and deliveries older than retainDays and returns how many
// deliveries were removed.
func (s *Store) PruneOld(ctx context.Context, retainDays int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}
	if retainDays <= 0 {
		return 0, nil
	}

	cutoff := formatTime(time.Now().AddDate(0, 0, -retainDays))

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune transaction: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM deliveries WHERE delivered_at < ?", cutoff)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM ticks WHERE started_at < ?", cutoff); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prune ticks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}
