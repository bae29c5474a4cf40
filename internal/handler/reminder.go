package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/lingo/internal/auth"
	"github.com/dukerupert/lingo/internal/model"
	"github.com/dukerupert/lingo/internal/reminder"
)

// Triggerer forces a single reminder rule.
type Triggerer interface {
	Trigger(ctx context.Context, userID string, kind model.ReminderKind) (reminder.Outcome, error)
}

type ReminderHandler struct {
	evaluator Triggerer
	logger    *slog.Logger
}

func NewReminderHandler(evaluator Triggerer, logger *slog.Logger) *ReminderHandler {
	return &ReminderHandler{evaluator: evaluator, logger: logger}
}

// Trigger handles POST /api/reminders/{kind}/trigger
func (h *ReminderHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	kind, err := model.ParseReminderKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.evaluator.Trigger(r.Context(), userID, kind)
	if errors.Is(err, reminder.ErrUnknownLearner) {
		writeError(w, http.StatusNotFound, "no learner profile")
		return
	}
	if err != nil {
		h.logger.Error("trigger reminder", "user_id", userID, "kind", kind, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, reminder.ErrDelivery) {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, map[string]string{
			"error":   "reminder failed",
			"kind":    string(kind),
			"outcome": string(outcome),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"kind":    string(kind),
		"outcome": string(outcome),
	})
}
