package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dukerupert/lingo/internal/auth"
	"github.com/dukerupert/lingo/internal/model"
	"github.com/dukerupert/lingo/internal/push"
	"github.com/dukerupert/lingo/internal/reminder"
	"github.com/dukerupert/lingo/internal/store"
)

// ErrInvalidSubscription is returned for registration bodies that fail validation.
var ErrInvalidSubscription = errors.New("invalid subscription")

const maxSubscribeBody = 64 << 10

// PayloadDeliverer sends an arbitrary payload to a user's devices.
type PayloadDeliverer interface {
	DeliverPayload(ctx context.Context, userID string, payload model.PushPayload) error
}

// OutboxFlusher drains queued reminders for a user.
type OutboxFlusher interface {
	Flush(ctx context.Context, userID string) (reminder.FlushResult, error)
}

type PushHandler struct {
	pushStore *store.PushStore
	deliverer PayloadDeliverer
	outbox    OutboxFlusher
	vapidKey  string
	logger    *slog.Logger
}

func NewPushHandler(ps *store.PushStore, deliverer PayloadDeliverer, outbox OutboxFlusher, vapidKey string, logger *slog.Logger) *PushHandler {
	return &PushHandler{pushStore: ps, deliverer: deliverer, outbox: outbox, vapidKey: vapidKey, logger: logger}
}

type subscribeRequest struct {
	Subscription struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	} `json:"subscription"`
	UserAgent  string `json:"userAgent"`
	DeviceName string `json:"deviceName"`
}

func (req subscribeRequest) validate() error {
	sub := req.Subscription
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return fmt.Errorf("%w: endpoint, keys.p256dh and keys.auth are required", ErrInvalidSubscription)
	}
	u, err := url.Parse(sub.Endpoint)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%w: endpoint must be an https URL", ErrInvalidSubscription)
	}
	return nil
}

// Subscribe handles POST /api/push/subscribe
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req subscribeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubscribeBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = r.UserAgent()
	}

	sub, err := h.pushStore.Register(r.Context(), store.SubscriptionInput{
		UserID:     userID,
		Endpoint:   req.Subscription.Endpoint,
		P256dh:     req.Subscription.Keys.P256dh,
		Auth:       req.Subscription.Keys.Auth,
		UserAgent:  userAgent,
		DeviceName: strings.TrimSpace(req.DeviceName),
	})
	if err != nil {
		h.logger.Error("register push subscription", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}

	h.logger.Info("push subscription saved", "user_id", userID, "device_id", sub.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Subscription saved",
		"deviceId": sub.ID,
	})
}

// Unsubscribe handles DELETE /api/push/subscriptions/{id}
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	id := r.PathValue("id")

	sub, err := h.pushStore.GetByID(r.Context(), id, userID)
	if err != nil {
		h.logger.Error("get push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	if sub == nil {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}

	if err := h.pushStore.DeleteSubscription(r.Context(), id, userID); err != nil {
		h.logger.Error("delete push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions handles GET /api/push/subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	subs, err := h.pushStore.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("list push subscriptions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// GetVAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) GetVAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.vapidKey})
}

type preferencesResponse struct {
	PushEnabled bool                        `json:"push_enabled"`
	Reminders   map[model.ReminderKind]bool `json:"reminders"`
}

func (h *PushHandler) loadPreferences(ctx context.Context, userID string) (*preferencesResponse, error) {
	np, err := h.pushStore.GetNotificationPreference(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows, err := h.pushStore.GetReminderPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := &preferencesResponse{
		PushEnabled: np.PushEnabled,
		Reminders:   make(map[model.ReminderKind]bool, len(model.ReminderKinds)),
	}
	for _, k := range model.ReminderKinds {
		resp.Reminders[k] = true
	}
	for _, p := range rows {
		resp.Reminders[p.Kind] = p.Enabled
	}
	return resp, nil
}

// GetPreferences handles GET /api/push/preferences
func (h *PushHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.loadPreferences(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("get push preferences", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

type updatePreferencesRequest struct {
	PushEnabled *bool           `json:"push_enabled"`
	Reminders   map[string]bool `json:"reminders"`
}

// UpdatePreferences handles PUT /api/push/preferences
func (h *PushHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req updatePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	kinds := make(map[model.ReminderKind]bool, len(req.Reminders))
	for name, enabled := range req.Reminders {
		kind, err := model.ParseReminderKind(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		kinds[kind] = enabled
	}

	if req.PushEnabled != nil {
		if err := h.pushStore.SetPushEnabled(r.Context(), userID, *req.PushEnabled); err != nil {
			h.logger.Error("set push enabled", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update preferences")
			return
		}
	}
	for kind, enabled := range kinds {
		if err := h.pushStore.SetReminderPreference(r.Context(), userID, kind, enabled); err != nil {
			h.logger.Error("set reminder preference", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update preferences")
			return
		}
	}

	prefs, err := h.loadPreferences(r.Context(), userID)
	if err != nil {
		h.logger.Error("get push preferences", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// TestNotification handles POST /api/push/test
func (h *PushHandler) TestNotification(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	payload := model.PushPayload{
		Title: "Test notification",
		Body:  "Push notifications are working!",
		Icon:  push.DefaultIcon,
		Badge: push.DefaultBadge,
		Tag:   "lingo-test",
		Data:  map[string]any{"url": "/dashboard"},
	}

	err := h.deliverer.DeliverPayload(r.Context(), userID, payload)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, push.ErrNoSubscriptions):
		writeError(w, http.StatusConflict, "no active subscriptions")
	default:
		h.logger.Error("test push send", "user_id", userID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to deliver notification")
	}
}

// Sync handles POST /api/push/sync, the background sync callback.
func (h *PushHandler) Sync(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	res, err := h.outbox.Flush(r.Context(), userID)
	if err != nil {
		h.logger.Error("flush reminder outbox", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to flush queued reminders")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
