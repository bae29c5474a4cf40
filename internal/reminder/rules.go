package reminder

import (
	"math"
	"time"

	"github.com/dukerupert/lingo/internal/model"
)

// Local hours at which the time-driven rules fire.
const (
	dailyGoalHour = 18
	streakMinIdle = 20 * time.Hour
	streakMaxIdle = 24 * time.Hour
)

var lessonHours = map[int]bool{10: true, 15: true}

// rule reports whether a reminder is due and with which parameters. When
// manual is set the time-of-day and idle-window conditions are skipped.
type rule func(st model.LearnerState, now time.Time, manual bool) (model.ReminderParams, bool)

var rules = map[model.ReminderKind]rule{
	model.ReminderDailyGoal: dailyGoalDue,
	model.ReminderStreak:    streakDue,
	model.ReminderLesson:    lessonDue,
}

func dailyGoalDue(st model.LearnerState, now time.Time, manual bool) (model.ReminderParams, bool) {
	if !manual && st.Local(now).Hour() != dailyGoalHour {
		return model.ReminderParams{}, false
	}
	if st.LearnedToday >= st.DailyGoal {
		return model.ReminderParams{}, false
	}
	return model.ReminderParams{Learned: st.LearnedToday, Goal: st.DailyGoal}, true
}

func streakDue(st model.LearnerState, now time.Time, manual bool) (model.ReminderParams, bool) {
	if st.StreakCount <= 0 || st.LastActivity.IsZero() {
		return model.ReminderParams{}, false
	}
	idle := now.Sub(st.LastActivity)
	if !manual && (idle <= streakMinIdle || idle >= streakMaxIdle) {
		return model.ReminderParams{}, false
	}
	return model.ReminderParams{Streak: st.StreakCount, HoursLeft: hoursLeft(idle)}, true
}

func lessonDue(st model.LearnerState, now time.Time, manual bool) (model.ReminderParams, bool) {
	hour := st.Local(now).Hour()
	if !manual && !lessonHours[hour] {
		return model.ReminderParams{}, false
	}
	return model.ReminderParams{Hour: hour}, true
}

// hoursLeft is max(1, floor(24 - hours idle)).
func hoursLeft(idle time.Duration) int {
	left := int(math.Floor(24 - idle.Hours()))
	if left < 1 {
		return 1
	}
	return left
}

// windowEnd returns the start of the learner's next local day.
func windowEnd(local time.Time) time.Time {
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, local.Location())
}
