package push

import (
	"fmt"

	"github.com/dukerupert/lingo/internal/model"
)

const (
	DefaultIcon  = "/icons/icon-192.png"
	DefaultBadge = "/icons/badge-72.png"
)

// BuildPayload renders the notification for a reminder kind.
func BuildPayload(kind model.ReminderKind, p model.ReminderParams) (model.PushPayload, error) {
	payload := model.PushPayload{
		Icon:  DefaultIcon,
		Badge: DefaultBadge,
		Tag:   "lingo-" + string(kind),
	}

	url := "/learn"
	switch kind {
	case model.ReminderDailyGoal:
		payload.Title = "Daily goal reminder"
		payload.Body = fmt.Sprintf("You've learned %d of %d phrases today. Keep going!", p.Learned, p.Goal)
	case model.ReminderStreak:
		payload.Title = fmt.Sprintf("Your %d-day streak is at risk", p.Streak)
		payload.Body = fmt.Sprintf("Practice in the next %d %s to keep it alive.", p.HoursLeft, plural(p.HoursLeft, "hour", "hours"))
	case model.ReminderLesson:
		payload.Title = "Time for a lesson"
		payload.Body = "A few minutes of practice now keeps your progress moving."
		url = "/lessons"
	default:
		return model.PushPayload{}, fmt.Errorf("unknown reminder kind %q", kind)
	}

	payload.Data = map[string]any{
		"url":  url,
		"kind": string(kind),
	}
	return payload, nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
