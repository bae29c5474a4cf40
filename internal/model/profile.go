package model

import "time"

// Profile is the learner profile owned by the profile service. This service
// only reads it, apart from test and seeding helpers.
type Profile struct {
	UserID       string     `json:"user_id"`
	DailyGoal    int        `json:"daily_goal"`
	StreakCount  int        `json:"streak_count"`
	LastActivity *time.Time `json:"last_activity"`
	Timezone     string     `json:"timezone"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
