package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/lingo/internal/model"
)

const subscriptionColumns = `id, user_id, endpoint, p256dh_key, auth_key, user_agent, device_name, active, created_at, updated_at`

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

// SubscriptionInput is a device registration as received from the client.
type SubscriptionInput struct {
	UserID     string
	Endpoint   string
	P256dh     string
	Auth       string
	UserAgent  string
	DeviceName string
}

// Register upserts the subscription for (user, endpoint) and turns push on
// for the user. Both writes share one transaction. Re-registering keeps the
// row id, replaces keys and metadata and reactivates the row.
func (s *PushStore) Register(ctx context.Context, in SubscriptionInput) (*model.PushSubscription, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin register: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh_key, auth_key, user_agent, device_name, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(user_id, endpoint) DO UPDATE SET
			p256dh_key = excluded.p256dh_key,
			auth_key = excluded.auth_key,
			user_agent = excluded.user_agent,
			device_name = excluded.device_name,
			active = 1,
			updated_at = excluded.updated_at`,
		uuid.NewString(), in.UserID, in.Endpoint, in.P256dh, in.Auth, in.UserAgent, in.DeviceName, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert push subscription: %w", err)
	}

	if err := setPushEnabled(ctx, tx, in.UserID, true, now); err != nil {
		return nil, err
	}

	sub, err := scanSubscription(tx.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE user_id = ? AND endpoint = ?`,
		in.UserID, in.Endpoint,
	))
	if err != nil {
		return nil, fmt.Errorf("reload push subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit register: %w", err)
	}
	return sub, nil
}

// GetByID returns the subscription, or nil if it does not belong to userID.
func (s *PushStore) GetByID(ctx context.Context, id, userID string) (*model.PushSubscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE id = ? AND user_id = ?`, id, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription: %w", err)
	}
	return sub, nil
}

func (s *PushStore) ListByUser(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions by user: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListActiveByUser returns the subscriptions delivery should target.
func (s *PushStore) ListActiveByUser(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE user_id = ? AND active = 1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active push subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *PushStore) DeleteSubscription(ctx context.Context, id, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

// DeactivateByEndpoint marks every subscription on endpoint inactive. Called
// when the push service reports the endpoint gone.
func (s *PushStore) DeactivateByEndpoint(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE push_subscriptions SET active = 0, updated_at = ? WHERE endpoint = ?`,
		time.Now().UTC(), endpoint,
	)
	if err != nil {
		return fmt.Errorf("deactivate push subscription: %w", err)
	}
	return nil
}

// GetNotificationPreference returns push_enabled for the user. A user who
// never registered has push disabled.
func (s *PushStore) GetNotificationPreference(ctx context.Context, userID string) (*model.NotificationPreference, error) {
	pref := model.NotificationPreference{UserID: userID}
	var enabledInt int
	err := s.db.QueryRowContext(ctx,
		`SELECT push_enabled, updated_at FROM notification_preferences WHERE user_id = ?`, userID,
	).Scan(&enabledInt, &pref.UpdatedAt)
	if err == sql.ErrNoRows {
		return &pref, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification preference: %w", err)
	}
	pref.PushEnabled = enabledInt != 0
	return &pref, nil
}

// SetPushEnabled upserts the per-user push switch.
func (s *PushStore) SetPushEnabled(ctx context.Context, userID string, enabled bool) error {
	return setPushEnabled(ctx, s.db, userID, enabled, time.Now().UTC())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setPushEnabled(ctx context.Context, db execer, userID string, enabled bool, now time.Time) error {
	var enabledInt int
	if enabled {
		enabledInt = 1
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO notification_preferences (user_id, push_enabled, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET push_enabled = excluded.push_enabled, updated_at = excluded.updated_at`,
		userID, enabledInt, now,
	)
	if err != nil {
		return fmt.Errorf("set push enabled: %w", err)
	}
	return nil
}

// GetReminderPreferences returns the explicit per-kind rows for a user.
func (s *PushStore) GetReminderPreferences(ctx context.Context, userID string) ([]model.ReminderPreference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, kind, enabled, updated_at FROM reminder_preferences WHERE user_id = ? ORDER BY kind`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("get reminder preferences: %w", err)
	}
	defer rows.Close()

	var prefs []model.ReminderPreference
	for rows.Next() {
		var p model.ReminderPreference
		var enabledInt int
		if err := rows.Scan(&p.UserID, &p.Kind, &enabledInt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder preference: %w", err)
		}
		p.Enabled = enabledInt != 0
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// SetReminderPreference upserts a per-kind preference.
func (s *PushStore) SetReminderPreference(ctx context.Context, userID string, kind model.ReminderKind, enabled bool) error {
	var enabledInt int
	if enabled {
		enabledInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_preferences (user_id, kind, enabled, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, kind) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		userID, string(kind), enabledInt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set reminder preference: %w", err)
	}
	return nil
}

// IsReminderEnabled checks a per-kind preference.
// Returns true by default if no preference record exists.
func (s *PushStore) IsReminderEnabled(ctx context.Context, userID string, kind model.ReminderKind) (bool, error) {
	var enabledInt int
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled FROM reminder_preferences WHERE user_id = ? AND kind = ?`,
		userID, string(kind),
	).Scan(&enabledInt)
	if err == sql.ErrNoRows {
		return true, nil // default enabled
	}
	if err != nil {
		return false, fmt.Errorf("check reminder preference: %w", err)
	}
	return enabledInt != 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	var activeInt int
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey,
		&sub.UserAgent, &sub.DeviceName, &activeInt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.Active = activeInt != 0
	return &sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
