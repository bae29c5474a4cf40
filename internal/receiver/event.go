package receiver

// EventType names a lifecycle or notification event delivered to the
// background context.
type EventType string

const (
	EventInstall           EventType = "install"
	EventActivate          EventType = "activate"
	EventPush              EventType = "push"
	EventNotificationClick EventType = "notificationclick"
	EventNotificationClose EventType = "notificationclose"
	EventSync              EventType = "sync"
)

// SyncTag is the only background sync tag the receiver acts on.
const SyncTag = "background-notification-sync"

// Notification actions.
const (
	ActionOpen  = "open"
	ActionClose = "close"
)

// Event is one platform event. Which fields are set depends on Type.
type Event struct {
	Type EventType

	// Data is the raw push message body (push) or the notification data
	// (click) when the notification is no longer known to the receiver.
	Data []byte

	// NotificationID identifies the notification for click and close events.
	NotificationID string

	// Action is the clicked action button, empty for a body click.
	Action string

	// Tag is the sync registration tag.
	Tag string

	// Done, when set, receives the result once the event is fully handled.
	Done chan<- error
}

// State is the lifecycle position of a rendered notification.
type State string

const (
	StateReceived     State = "received"
	StateRendered     State = "rendered"
	StateClickedOpen  State = "clicked(open)"
	StateClickedClose State = "clicked(close)"
	StateDismissed    State = "dismissed"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateClickedOpen || s == StateClickedClose || s == StateDismissed
}

// Action is a notification button.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification is what the receiver asks the host to display.
type Notification struct {
	ID                 string
	Title              string
	Body               string
	Icon               string
	Badge              string
	Tag                string
	Data               map[string]any
	Actions            []Action
	RequireInteraction bool
	State              State
}

// URL returns data.url, or "" when absent.
func (n Notification) URL() string {
	u, _ := n.Data["url"].(string)
	return u
}

// Window is an open application window.
type Window struct {
	ID  string
	URL string
}
