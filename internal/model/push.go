package model

import "time"

type PushSubscription struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Endpoint   string    `json:"endpoint"`
	P256dhKey  string    `json:"p256dh_key"`
	AuthKey    string    `json:"auth_key"`
	UserAgent  string    `json:"user_agent"`
	DeviceName string    `json:"device_name"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type NotificationPreference struct {
	UserID      string    `json:"user_id"`
	PushEnabled bool      `json:"push_enabled"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ReminderPreference toggles a single reminder kind for a user.
// A missing row means the kind is enabled.
type ReminderPreference struct {
	UserID    string       `json:"user_id"`
	Kind      ReminderKind `json:"kind"`
	Enabled   bool         `json:"enabled"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// PushPayload is the JSON document carried inside an encrypted push message.
// Every field is optional on the receiving side.
type PushPayload struct {
	Title string         `json:"title,omitempty"`
	Body  string         `json:"body,omitempty"`
	Icon  string         `json:"icon,omitempty"`
	Badge string         `json:"badge,omitempty"`
	Tag   string         `json:"tag,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// URL returns data.url, or "" when absent or not a string.
func (p PushPayload) URL() string {
	if p.Data == nil {
		return ""
	}
	u, _ := p.Data["url"].(string)
	return u
}
