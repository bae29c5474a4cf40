package model

import (
	"fmt"
	"time"
)

type ReminderKind string

const (
	ReminderDailyGoal ReminderKind = "daily-goal"
	ReminderStreak    ReminderKind = "streak"
	ReminderLesson    ReminderKind = "lesson"
)

// ReminderKinds lists every kind in evaluation order.
var ReminderKinds = []ReminderKind{ReminderDailyGoal, ReminderStreak, ReminderLesson}

// ParseReminderKind validates a kind name.
func ParseReminderKind(s string) (ReminderKind, error) {
	for _, k := range ReminderKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown reminder kind %q", s)
}

// Marker status values.
const (
	MarkerPending = "pending"
	MarkerSent    = "sent"
)

// NoHour marks a marker that is not tied to an hour slot.
const NoHour = -1

// ReminderMarker records that a reminder window has been used.
type ReminderMarker struct {
	Key       string       `json:"key"`
	UserID    string       `json:"user_id"`
	Kind      ReminderKind `json:"kind"`
	Day       string       `json:"day"`
	Hour      int          `json:"hour"`
	Status    string       `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewReminderMarker builds the marker for a kind at the given local time.
// Lesson markers are slotted by hour; the other kinds are daily.
func NewReminderMarker(kind ReminderKind, userID string, local time.Time) ReminderMarker {
	m := ReminderMarker{
		UserID: userID,
		Kind:   kind,
		Day:    local.Format("2006-01-02"),
		Hour:   NoHour,
		Status: MarkerPending,
	}
	if kind == ReminderLesson {
		m.Hour = local.Hour()
	}
	m.Key = MarkerKey(kind, userID, m.Day, m.Hour)
	return m
}

// MarkerKey formats <kind>_<userId>_<YYYY-MM-DD>[_<hour>].
func MarkerKey(kind ReminderKind, userID, day string, hour int) string {
	if hour == NoHour {
		return fmt.Sprintf("%s_%s_%s", kind, userID, day)
	}
	return fmt.Sprintf("%s_%s_%s_%d", kind, userID, day, hour)
}

// LearnerState is the slice of profile and progress data the reminder rules read.
type LearnerState struct {
	UserID       string
	DailyGoal    int
	LearnedToday int
	LastActivity time.Time // zero when unknown
	StreakCount  int
	Location     *time.Location
}

// Local converts t to the learner's timezone.
func (s LearnerState) Local(t time.Time) time.Time {
	if s.Location == nil {
		return t.UTC()
	}
	return t.In(s.Location)
}

// ReminderParams carries the kind-specific values used to build a payload.
type ReminderParams struct {
	Learned   int `json:"learned,omitempty"`
	Goal      int `json:"goal,omitempty"`
	Streak    int `json:"streak,omitempty"`
	HoursLeft int `json:"hours_left,omitempty"`
	Hour      int `json:"hour,omitempty"`
}

// ReminderIntent is a delivery queued for background sync.
type ReminderIntent struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Kind      ReminderKind   `json:"kind"`
	MarkerKey string         `json:"marker_key"`
	Params    ReminderParams `json:"params"`
	Attempts  int            `json:"attempts"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}
