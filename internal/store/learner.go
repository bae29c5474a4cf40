package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/lingo/internal/model"
)

// LearnerStore reads profile and progress rows owned by the profile service.
type LearnerStore struct {
	db *sql.DB
}

func NewLearnerStore(db *sql.DB) *LearnerStore {
	return &LearnerStore{db: db}
}

// UpsertProfile writes a learner profile.
func (s *LearnerStore) UpsertProfile(ctx context.Context, p model.Profile) error {
	var lastActivity any
	if p.LastActivity != nil {
		lastActivity = p.LastActivity.UTC()
	}
	tz := p.Timezone
	if tz == "" {
		tz = "UTC"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, daily_goal, streak_count, last_activity, timezone, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			daily_goal = excluded.daily_goal,
			streak_count = excluded.streak_count,
			last_activity = excluded.last_activity,
			timezone = excluded.timezone,
			updated_at = excluded.updated_at`,
		p.UserID, p.DailyGoal, p.StreakCount, lastActivity, tz, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// SetProgress sets the learned count for a user's local day (YYYY-MM-DD).
func (s *LearnerStore) SetProgress(ctx context.Context, userID, day string, learned int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_progress (user_id, day, learned_count) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, day) DO UPDATE SET learned_count = excluded.learned_count`,
		userID, day, learned,
	)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// ListReminderCandidates returns the state of every user with push enabled,
// at least one active subscription and a profile. LearnedToday is computed
// for each user's local day at now.
func (s *LearnerStore) ListReminderCandidates(ctx context.Context, now time.Time) ([]model.LearnerState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.user_id, p.daily_goal, p.streak_count, p.last_activity, p.timezone
		 FROM profiles p
		 JOIN notification_preferences np ON np.user_id = p.user_id AND np.push_enabled = 1
		 WHERE EXISTS (
			SELECT 1 FROM push_subscriptions ps WHERE ps.user_id = p.user_id AND ps.active = 1
		 )
		 ORDER BY p.user_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list reminder candidates: %w", err)
	}

	var states []model.LearnerState
	for rows.Next() {
		st, err := scanLearner(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan reminder candidate: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range states {
		if err := s.fillProgress(ctx, &states[i], now); err != nil {
			return nil, err
		}
	}
	return states, nil
}

// GetLearner returns the state for one user, or nil when no profile exists.
func (s *LearnerStore) GetLearner(ctx context.Context, userID string, now time.Time) (*model.LearnerState, error) {
	st, err := scanLearner(s.db.QueryRowContext(ctx,
		`SELECT user_id, daily_goal, streak_count, last_activity, timezone FROM profiles WHERE user_id = ?`,
		userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get learner: %w", err)
	}
	if err := s.fillProgress(ctx, &st, now); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *LearnerStore) fillProgress(ctx context.Context, st *model.LearnerState, now time.Time) error {
	day := st.Local(now).Format("2006-01-02")
	err := s.db.QueryRowContext(ctx,
		`SELECT learned_count FROM daily_progress WHERE user_id = ? AND day = ?`,
		st.UserID, day,
	).Scan(&st.LearnedToday)
	if err == sql.ErrNoRows {
		st.LearnedToday = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("get progress: %w", err)
	}
	return nil
}

func scanLearner(row rowScanner) (model.LearnerState, error) {
	var st model.LearnerState
	var lastActivity sql.NullTime
	var tz string
	if err := row.Scan(&st.UserID, &st.DailyGoal, &st.StreakCount, &lastActivity, &tz); err != nil {
		return st, err
	}
	if lastActivity.Valid {
		st.LastActivity = lastActivity.Time
	}
	st.Location = loadLocation(tz)
	return st, nil
}

// loadLocation resolves an IANA zone name, falling back to UTC.
func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
