package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/lingo/internal/model"
)

// IntentStore is the durable queue of reminders waiting for background sync.
type IntentStore struct {
	db *sql.DB
}

func NewIntentStore(db *sql.DB) *IntentStore {
	return &IntentStore{db: db}
}

// Enqueue stores an intent. ID and CreatedAt are filled in when empty.
func (s *IntentStore) Enqueue(ctx context.Context, in *model.ReminderIntent) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	params, err := json.Marshal(in.Params)
	if err != nil {
		return fmt.Errorf("marshal intent params: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reminder_intents (id, user_id, kind, marker_key, params, attempts, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.UserID, string(in.Kind), in.MarkerKey, string(params), in.Attempts,
		in.CreatedAt.UTC(), in.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("enqueue intent: %w", err)
	}
	return nil
}

// List returns queued intents oldest first. An empty userID lists every user.
func (s *IntentStore) List(ctx context.Context, userID string) ([]model.ReminderIntent, error) {
	query := `SELECT id, user_id, kind, marker_key, params, attempts, created_at, expires_at FROM reminder_intents`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	defer rows.Close()

	var intents []model.ReminderIntent
	for rows.Next() {
		var in model.ReminderIntent
		var params string
		if err := rows.Scan(&in.ID, &in.UserID, &in.Kind, &in.MarkerKey, &params,
			&in.Attempts, &in.CreatedAt, &in.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &in.Params); err != nil {
			return nil, fmt.Errorf("decode intent params: %w", err)
		}
		intents = append(intents, in)
	}
	return intents, rows.Err()
}

func (s *IntentStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminder_intents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete intent: %w", err)
	}
	return nil
}

// Claim takes exclusive hold of an intent until now+lease. It reports false
// when the intent is gone or another flusher holds an unexpired claim.
func (s *IntentStore) Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminder_intents SET claimed_until = ?
		 WHERE id = ? AND (claimed_until IS NULL OR claimed_until <= ?)`,
		now.Add(lease).UnixNano(), id, now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("claim intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim intent: %w", err)
	}
	return n == 1, nil
}

// Release returns a claimed intent to the queue and counts the failed attempt.
func (s *IntentStore) Release(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminder_intents SET attempts = attempts + 1, claimed_until = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("release intent: %w", err)
	}
	return nil
}
