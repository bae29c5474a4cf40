package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/dukerupert/lingo/internal/model"
)

// ErrPayloadParse marks a push message whose body could not be decoded.
var ErrPayloadParse = errors.New("push payload parse")

// Default presentation used when a push message omits fields.
const (
	DefaultTitle = "Lingo"
	DefaultBody  = "You have a new notification"
	DefaultIcon  = "/icons/icon-192.png"
	DefaultBadge = "/icons/badge-72.png"
	DefaultRoute = "/dashboard"
)

// finishedCap bounds how many finished notification IDs are remembered so
// repeated clicks on them stay no-ops.
const finishedCap = 256

var defaultActions = []Action{
	{Action: ActionOpen, Title: "Open"},
	{Action: ActionClose, Title: "Close"},
}

// Host is the platform the receiver runs in.
type Host interface {
	SkipWaiting(ctx context.Context) error
	ClaimClients(ctx context.Context) error
	ShowNotification(ctx context.Context, n Notification) error
	CloseNotification(ctx context.Context, id string) error
	MatchWindows(ctx context.Context) ([]Window, error)
	Focus(ctx context.Context, windowID string) error
	OpenWindow(ctx context.Context, url string) error
}

// Flusher asks the server to drain queued reminders.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Receiver handles push and notification events in the device background
// context. Events are handled one at a time.
type Receiver struct {
	host    Host
	flusher Flusher
	origin  *url.URL
	logger  *slog.Logger

	mu       sync.Mutex
	live     map[string]*Notification
	finished map[string]State
	order    []string
}

// New creates a receiver. origin is the app origin that relative routes
// resolve against. flusher may be nil.
func New(host Host, flusher Flusher, origin string, logger *slog.Logger) (*Receiver, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be absolute", origin)
	}
	return &Receiver{
		host:    host,
		flusher: flusher,
		origin:  u,
		logger:  logger,
		live:     make(map[string]*Notification),
		finished: make(map[string]State),
	}, nil
}

// Run handles events until ctx is cancelled or events is closed.
func (r *Receiver) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			err := r.Handle(ctx, ev)
			if ev.Done != nil {
				ev.Done <- err
			}
		}
	}
}

// Handle processes one event and returns once all of its work is complete.
func (r *Receiver) Handle(ctx context.Context, ev Event) error {
	var err error
	switch ev.Type {
	case EventInstall:
		err = r.host.SkipWaiting(ctx)
	case EventActivate:
		err = r.host.ClaimClients(ctx)
	case EventPush:
		_, err = r.handlePush(ctx, ev.Data)
	case EventNotificationClick:
		err = r.handleClick(ctx, ev)
	case EventNotificationClose:
		r.handleClose(ev.NotificationID)
	case EventSync:
		err = r.handleSync(ctx, ev.Tag)
	default:
		r.logger.Debug("ignoring event", "type", ev.Type)
	}
	if err != nil {
		r.logger.Error("handle event", "type", ev.Type, "error", err)
	}
	return err
}

// Notification returns a copy of a shown notification that has not yet been
// clicked or dismissed.
func (r *Receiver) Notification(id string) (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.live[id]
	if !ok {
		return Notification{}, false
	}
	return *n, true
}

// Finished returns the terminal state of a recently finished notification.
func (r *Receiver) Finished(id string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.finished[id]
	return s, ok
}

// Live returns the number of notifications awaiting interaction.
func (r *Receiver) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *Receiver) handlePush(ctx context.Context, data []byte) (string, error) {
	payload, err := ParsePayload(data)
	if err != nil {
		r.logger.Warn("using default notification", "error", err)
	}

	n := &Notification{
		ID:                 uuid.NewString(),
		Title:              payload.Title,
		Body:               payload.Body,
		Icon:               payload.Icon,
		Badge:              payload.Badge,
		Tag:                payload.Tag,
		Data:               payload.Data,
		Actions:            defaultActions,
		RequireInteraction: false,
		State:              StateReceived,
	}
	r.mu.Lock()
	r.live[n.ID] = n
	r.mu.Unlock()

	if err := r.host.ShowNotification(ctx, *n); err != nil {
		return n.ID, fmt.Errorf("show notification: %w", err)
	}
	r.setState(n.ID, StateRendered)
	return n.ID, nil
}

func (r *Receiver) handleClick(ctx context.Context, ev Event) error {
	if _, done := r.Finished(ev.NotificationID); done {
		return nil
	}
	n, known := r.Notification(ev.NotificationID)
	if !known {
		n = Notification{ID: ev.NotificationID}
		if len(ev.Data) > 0 {
			var data map[string]any
			if err := json.Unmarshal(ev.Data, &data); err == nil {
				n.Data = data
			}
		}
	}

	if err := r.host.CloseNotification(ctx, n.ID); err != nil {
		r.logger.Warn("close notification", "id", n.ID, "error", err)
	}

	if ev.Action == ActionClose {
		r.finish(n.ID, StateClickedClose)
		return nil
	}
	r.finish(n.ID, StateClickedOpen)

	target := r.Resolve(n.URL())
	windows, err := r.host.MatchWindows(ctx)
	if err != nil {
		return fmt.Errorf("match windows: %w", err)
	}
	for _, w := range windows {
		if w.URL == target {
			return r.host.Focus(ctx, w.ID)
		}
	}
	return r.host.OpenWindow(ctx, target)
}

func (r *Receiver) handleClose(id string) {
	if _, done := r.Finished(id); done {
		return
	}
	r.finish(id, StateDismissed)
	r.logger.Info("notification dismissed", "id", id)
}

func (r *Receiver) handleSync(ctx context.Context, tag string) error {
	if tag != SyncTag {
		r.logger.Debug("ignoring sync", "tag", tag)
		return nil
	}
	if r.flusher == nil {
		return nil
	}
	return r.flusher.Flush(ctx)
}

func (r *Receiver) setState(id string, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.live[id]; ok {
		n.State = s
	}
}

// finish drops the record and remembers its terminal state. The oldest
// remembered ID is forgotten once finishedCap is reached.
func (r *Receiver) finish(id string, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, id)
	if _, ok := r.finished[id]; ok {
		return
	}
	if len(r.order) >= finishedCap {
		delete(r.finished, r.order[0])
		r.order = r.order[1:]
	}
	r.finished[id] = s
	r.order = append(r.order, id)
}

// Resolve turns a route into an absolute URL on the app origin. An empty or
// unparsable route resolves to the default route.
func (r *Receiver) Resolve(route string) string {
	if route == "" {
		route = DefaultRoute
	}
	ref, err := url.Parse(route)
	if err != nil {
		ref, _ = url.Parse(DefaultRoute)
	}
	return r.origin.ResolveReference(ref).String()
}

// DefaultPayload is shown when a push message carries no usable data.
func DefaultPayload() model.PushPayload {
	return model.PushPayload{
		Title: DefaultTitle,
		Body:  DefaultBody,
		Icon:  DefaultIcon,
		Badge: DefaultBadge,
		Data:  map[string]any{"url": DefaultRoute},
	}
}

// ParsePayload decodes a push message and merges it over DefaultPayload.
// On empty or invalid input it returns the default payload together with an
// error wrapping ErrPayloadParse.
func ParsePayload(data []byte) (model.PushPayload, error) {
	p := DefaultPayload()
	if len(data) == 0 {
		return p, fmt.Errorf("%w: empty body", ErrPayloadParse)
	}

	var in model.PushPayload
	if err := json.Unmarshal(data, &in); err != nil {
		return p, fmt.Errorf("%w: %v", ErrPayloadParse, err)
	}

	if in.Title != "" {
		p.Title = in.Title
	}
	if in.Body != "" {
		p.Body = in.Body
	}
	if in.Icon != "" {
		p.Icon = in.Icon
	}
	if in.Badge != "" {
		p.Badge = in.Badge
	}
	p.Tag = in.Tag
	for k, v := range in.Data {
		p.Data[k] = v
	}
	if _, ok := p.Data["url"].(string); !ok {
		p.Data["url"] = DefaultRoute
	}
	return p, nil
}
