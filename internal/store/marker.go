package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/lingo/internal/model"
)

// MarkerStore keeps reminder idempotency markers in SQLite.
type MarkerStore struct {
	db *sql.DB
}

func NewMarkerStore(db *sql.DB) *MarkerStore {
	return &MarkerStore{db: db}
}

// Claim inserts the marker as pending. It reports false without error when a
// marker with the same key already exists, whatever its status.
func (s *MarkerStore) Claim(ctx context.Context, m model.ReminderMarker) (bool, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_markers (key, user_id, kind, day, hour, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO NOTHING`,
		m.Key, m.UserID, string(m.Kind), m.Day, m.Hour, model.MarkerPending, now, now,
	)
	if err != nil {
		return false, fmt.Errorf("claim marker: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim marker rows: %w", err)
	}
	return n == 1, nil
}

// Get returns the marker for key, or nil if none exists.
func (s *MarkerStore) Get(ctx context.Context, key string) (*model.ReminderMarker, error) {
	var m model.ReminderMarker
	err := s.db.QueryRowContext(ctx,
		`SELECT key, user_id, kind, day, hour, status, created_at, updated_at
		 FROM reminder_markers WHERE key = ?`, key,
	).Scan(&m.Key, &m.UserID, &m.Kind, &m.Day, &m.Hour, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get marker: %w", err)
	}
	return &m, nil
}

func (s *MarkerStore) MarkSent(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminder_markers SET status = ?, updated_at = ? WHERE key = ?`,
		model.MarkerSent, time.Now().UTC(), key,
	)
	if err != nil {
		return fmt.Errorf("mark marker sent: %w", err)
	}
	return nil
}

// Cleanup removes markers whose local day is before the cutoff day.
func (s *MarkerStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM reminder_markers WHERE day < ?`, before.Format("2006-01-02"),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup markers: %w", err)
	}
	return result.RowsAffected()
}
