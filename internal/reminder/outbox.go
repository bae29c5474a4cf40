package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/lingo/internal/model"
	"github.com/dukerupert/lingo/internal/push"
)

// claimLease bounds how long a crashed flusher can hold an intent.
const claimLease = 5 * time.Minute

// FlushResult counts what a flush did with each queued intent.
type FlushResult struct {
	Delivered int `json:"delivered"`
	Discarded int `json:"discarded"`
	Retained  int `json:"retained"`
	Dropped   int `json:"dropped"`
}

// Outbox redelivers reminders that failed transiently.
type Outbox struct {
	intents  Intents
	markers  Markers
	delivery Delivery
	now      func() time.Time
	logger   *slog.Logger
}

func NewOutbox(intents Intents, markers Markers, delivery Delivery, logger *slog.Logger) *Outbox {
	return &Outbox{intents: intents, markers: markers, delivery: delivery, now: time.Now, logger: logger}
}

// SetClock replaces the time source.
func (o *Outbox) SetClock(now func() time.Time) {
	o.now = now
}

// Flush drains queued intents for userID, or for every user when userID is
// empty. Each intent is claimed before it is inspected, so concurrent
// flushes deliver it at most once. Intents already sent or past their
// window are discarded.
func (o *Outbox) Flush(ctx context.Context, userID string) (FlushResult, error) {
	var res FlushResult
	intents, err := o.intents.List(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("list intents: %w", err)
	}

	now := o.now()
	for _, in := range intents {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		ok, err := o.intents.Claim(ctx, in.ID, now, claimLease)
		if err != nil {
			o.logger.Error("outbox claim intent", "id", in.ID, "error", err)
			res.Retained++
			continue
		}
		if !ok {
			continue
		}

		marker, err := o.markers.Get(ctx, in.MarkerKey)
		if err != nil {
			o.logger.Error("outbox marker lookup", "key", in.MarkerKey, "error", err)
			o.release(ctx, in.ID)
			res.Retained++
			continue
		}
		if (marker != nil && marker.Status == model.MarkerSent) || !now.Before(in.ExpiresAt) {
			o.remove(ctx, in.ID)
			res.Discarded++
			outboxTotal.WithLabelValues("discarded").Inc()
			continue
		}

		err = o.delivery.Deliver(ctx, in.UserID, in.Kind, in.Params)
		switch {
		case err == nil:
			if err := o.markers.MarkSent(ctx, in.MarkerKey); err != nil {
				o.logger.Error("outbox mark sent", "key", in.MarkerKey, "error", err)
			}
			o.remove(ctx, in.ID)
			res.Delivered++
			outboxTotal.WithLabelValues("delivered").Inc()
		case errors.Is(err, push.ErrUnavailable):
			o.release(ctx, in.ID)
			res.Retained++
			outboxTotal.WithLabelValues("retained").Inc()
		default:
			o.logger.Warn("outbox dropped intent", "id", in.ID, "user_id", in.UserID, "kind", in.Kind, "error", err)
			o.remove(ctx, in.ID)
			res.Dropped++
			outboxTotal.WithLabelValues("dropped").Inc()
		}
	}
	return res, nil
}

func (o *Outbox) remove(ctx context.Context, id string) {
	if err := o.intents.Delete(ctx, id); err != nil {
		o.logger.Error("outbox delete intent", "id", id, "error", err)
	}
}

func (o *Outbox) release(ctx context.Context, id string) {
	if err := o.intents.Release(ctx, id); err != nil {
		o.logger.Error("outbox release intent", "id", id, "error", err)
	}
}
