// Package store keeps the delivery history in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"hiddenprotocol/internal/bus"
	"hiddenprotocol/internal/domain"
)

const defaultRecentLimit = 20

// SQLiteStore implements domain.DeliveryStore.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// RecordDelivery inserts d, filling in ID and CreatedAt when unset.
func (s *SQLiteStore) RecordDelivery(ctx context.Context, d domain.Delivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (id, url, sender, source_chat_id, target_chat_id, target_thread,
			route_tag, outcome, category, error, bytes, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.URL, d.Sender, d.SourceChatID, d.TargetChatID, d.TargetThread,
		string(d.RouteTag), string(d.Outcome), string(d.Category), d.Error,
		d.Bytes, d.Elapsed.Milliseconds(), d.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// RecentDeliveries returns the newest deliveries first.
func (s *SQLiteStore) RecentDeliveries(ctx context.Context, limit int) ([]domain.Delivery, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, sender, source_chat_id, target_chat_id, target_thread, route_tag,
			outcome, category, error, bytes, elapsed_ms, created_at
		 FROM deliveries ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Delivery
	for rows.Next() {
		var (
			d                          domain.Delivery
			tag, outcome, category     string
			elapsedMS, createdAtMillis int64
		)
		if err := rows.Scan(&d.ID, &d.URL, &d.Sender, &d.SourceChatID, &d.TargetChatID, &d.TargetThread,
			&tag, &outcome, &category, &d.Error, &d.Bytes, &elapsedMS, &createdAtMillis); err != nil {
			return nil, err
		}
		d.RouteTag = domain.RouteTag(tag)
		d.Outcome = domain.DeliveryOutcome(outcome)
		d.Category = domain.FailureCategory(category)
		d.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		d.CreatedAt = time.UnixMilli(createdAtMillis)
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountByOutcome counts deliveries recorded at or after since.
func (s *SQLiteStore) CountByOutcome(ctx context.Context, since time.Time) (map[domain.DeliveryOutcome]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM deliveries WHERE created_at >= ? GROUP BY outcome`, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.DeliveryOutcome]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[domain.DeliveryOutcome(outcome)] = n
	}
	return counts, rows.Err()
}

// Prune deletes deliveries older than before and returns how many went.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned delivery history", "rows", n, "before", before.Format(time.RFC3339))
	}
	return n, nil
}

// Ping reports whether the database is reachable.
// Subscribe records every delivery event emitted on eb.
func (s *SQLiteStore) Subscribe(eb *bus.EventBus) {
	eb.On("*", func(e bus.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.RecordDelivery(ctx, e.Delivery); err != nil {
			s.logger.Warn("record delivery failed", "url", e.Delivery.URL, "error", err)
		}
	})
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
