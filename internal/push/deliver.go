package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/lingo/internal/model"
)

// ErrNoSubscriptions is returned when the user has no active endpoint.
var ErrNoSubscriptions = errors.New("no active push subscriptions")

// Subscriptions is the registry view the deliverer needs.
type Subscriptions interface {
	ListActiveByUser(ctx context.Context, userID string) ([]model.PushSubscription, error)
	DeactivateByEndpoint(ctx context.Context, endpoint string) error
}

// Sender sends one payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload model.PushPayload) error
}

// SessionNotifier receives an event for the user's open sessions after a
// successful delivery.
type SessionNotifier interface {
	NotifyUser(userID, msgType string, data any)
}

// Deliverer is the delivery entry point: it fans a payload out to every
// active subscription of a user.
type Deliverer struct {
	subs     Subscriptions
	sender   Sender
	notifier SessionNotifier
	logger   *slog.Logger
}

func NewDeliverer(subs Subscriptions, sender Sender, notifier SessionNotifier, logger *slog.Logger) *Deliverer {
	return &Deliverer{subs: subs, sender: sender, notifier: notifier, logger: logger}
}

// Deliver sends the reminder for kind to all of the user's devices.
func (d *Deliverer) Deliver(ctx context.Context, userID string, kind model.ReminderKind, params model.ReminderParams) error {
	payload, err := BuildPayload(kind, params)
	if err != nil {
		return err
	}
	if err := d.DeliverPayload(ctx, userID, payload); err != nil {
		return err
	}
	if d.notifier != nil {
		d.notifier.NotifyUser(userID, "reminder_sent", map[string]any{
			"kind":  string(kind),
			"title": payload.Title,
		})
	}
	return nil
}

// DeliverPayload sends payload to every active subscription of userID.
// It succeeds when at least one endpoint accepts the message. Endpoints that
// are gone are deactivated. When every attempt fails and at least one failure
// was transient the returned error wraps ErrUnavailable.
func (d *Deliverer) DeliverPayload(ctx context.Context, userID string, payload model.PushPayload) error {
	subs, err := d.subs.ListActiveByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return ErrNoSubscriptions
	}

	var (
		delivered int
		transient bool
		errs      []error
	)
	for i := range subs {
		sub := &subs[i]
		err := d.sender.Send(ctx, sub, payload)
		switch {
		case err == nil:
			delivered++
			sendsTotal.WithLabelValues("sent").Inc()
		case errors.Is(err, ErrExpired):
			sendsTotal.WithLabelValues("expired").Inc()
			if derr := d.subs.DeactivateByEndpoint(ctx, sub.Endpoint); derr != nil {
				d.logger.Error("deactivate subscription", "endpoint", sub.Endpoint, "error", derr)
			} else {
				deactivatedTotal.Inc()
				d.logger.Info("subscription deactivated", "user_id", userID, "device_id", sub.ID)
			}
			errs = append(errs, fmt.Errorf("device %s: %w", sub.ID, err))
		case errors.Is(err, ErrUnavailable):
			transient = true
			sendsTotal.WithLabelValues("unavailable").Inc()
			errs = append(errs, fmt.Errorf("device %s: %w", sub.ID, err))
		default:
			sendsTotal.WithLabelValues("failed").Inc()
			errs = append(errs, fmt.Errorf("device %s: %w", sub.ID, err))
		}
	}

	if delivered > 0 {
		if len(errs) > 0 {
			d.logger.Warn("partial push delivery", "user_id", userID, "delivered", delivered, "error", errors.Join(errs...))
		}
		return nil
	}
	if transient {
		return fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
	}
	return errors.Join(errs...)
}
