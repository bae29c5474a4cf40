package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/lingo/internal/model"
	"github.com/dukerupert/lingo/internal/push"
)

func queueIntent(t *testing.T, env *testEnv, userID string, kind model.ReminderKind, expires time.Time) *model.ReminderIntent {
	t.Helper()
	ctx := context.Background()
	marker := model.NewReminderMarker(kind, userID, env.now)
	if _, err := env.markers.Claim(ctx, marker); err != nil {
		t.Fatalf("claim: %v", err)
	}
	in := &model.ReminderIntent{
		UserID:    userID,
		Kind:      kind,
		MarkerKey: marker.Key,
		Params:    model.ReminderParams{Learned: 1, Goal: 5},
		ExpiresAt: expires,
	}
	if err := env.intents.Enqueue(ctx, in); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return in
}

func TestOutboxFlushDelivers(t *testing.T) {
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	env := setupEnv(t, now)
	in := queueIntent(t, env, "alice", model.ReminderDailyGoal, now.Add(6*time.Hour))
	ctx := context.Background()

	res, err := env.outbox.Flush(ctx, "alice")
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if res.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", res.Delivered)
	}
	marker, _ := env.markers.Get(ctx, in.MarkerKey)
	if marker == nil || marker.Status != model.MarkerSent {
		t.Errorf("marker = %+v, want sent", marker)
	}
	left, _ := env.intents.List(ctx, "")
	if len(left) != 0 {
		t.Errorf("intents left = %d, want 0", len(left))
	}
}

func TestOutboxFlushDiscards(t *testing.T) {
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	env := setupEnv(t, now)
	ctx := context.Background()

	expired := queueIntent(t, env, "alice", model.ReminderDailyGoal, now.Add(-time.Minute))
	already := queueIntent(t, env, "bob", model.ReminderDailyGoal, now.Add(time.Hour))
	env.markers.MarkSent(ctx, already.MarkerKey)

	res, err := env.outbox.Flush(ctx, "")
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if res.Discarded != 2 {
		t.Errorf("discarded = %d, want 2", res.Discarded)
	}
	if len(env.delivery.calls) != 0 {
		t.Errorf("sends = %d, want 0", len(env.delivery.calls))
	}
	if m, _ := env.markers.Get(ctx, expired.MarkerKey); m == nil || m.Status != model.MarkerPending {
		t.Errorf("expired marker = %+v, want pending", m)
	}
}

func TestOutboxFlushRetainsTransient(t *testing.T) {
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	env := setupEnv(t, now)
	ctx := context.Background()
	queueIntent(t, env, "alice", model.ReminderDailyGoal, now.Add(time.Hour))
	env.delivery.err[model.ReminderDailyGoal] = push.ErrUnavailable

	res, _ := env.outbox.Flush(ctx, "alice")
	if res.Retained != 1 {
		t.Fatalf("retained = %d, want 1", res.Retained)
	}
	left, _ := env.intents.List(ctx, "alice")
	if len(left) != 1 || left[0].Attempts != 1 {
		t.Fatalf("intents = %+v, want one with 1 attempt", left)
	}

	env.delivery.err[model.ReminderDailyGoal] = errors.New("push service returned 400")
	res, _ = env.outbox.Flush(ctx, "alice")
	if res.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", res.Dropped)
	}
	left, _ = env.intents.List(ctx, "alice")
	if len(left) != 0 {
		t.Errorf("intents left = %d, want 0", len(left))
	}
}

func TestOutboxFlushScopedToUser(t *testing.T) {
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	env := setupEnv(t, now)
	ctx := context.Background()
	queueIntent(t, env, "alice", model.ReminderDailyGoal, now.Add(time.Hour))
	queueIntent(t, env, "bob", model.ReminderDailyGoal, now.Add(time.Hour))

	res, _ := env.outbox.Flush(ctx, "alice")
	if res.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", res.Delivered)
	}
	left, _ := env.intents.List(ctx, "bob")
	if len(left) != 1 {
		t.Errorf("bob intents = %d, want 1", len(left))
	}
}

func TestOutboxConcurrentFlushDeliversOnce(t *testing.T) {
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	env := setupEnv(t, now)
	queueIntent(t, env, "alice", model.ReminderDailyGoal, now.Add(time.Hour))
	env.delivery.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]FlushResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.outbox.Flush(context.Background(), "alice")
			if err != nil {
				t.Errorf("flush %d: %v", i, err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	if n := env.delivery.count(model.ReminderDailyGoal); n != 1 {
		t.Errorf("deliveries = %d, want 1", n)
	}
	if got := results[0].Delivered + results[1].Delivered; got != 1 {
		t.Errorf("delivered across flushes = %d, want 1", got)
	}
	left, _ := env.intents.List(context.Background(), "alice")
	if len(left) != 0 {
		t.Errorf("intents left = %d, want 0", len(left))
	}
}

func TestOutboxRetainedIntentIsClaimableAgain(t *testing.T) {
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	env := setupEnv(t, now)
	ctx := context.Background()
	queueIntent(t, env, "alice", model.ReminderDailyGoal, now.Add(time.Hour))

	env.delivery.err[model.ReminderDailyGoal] = push.ErrUnavailable
	env.outbox.Flush(ctx, "alice")

	delete(env.delivery.err, model.ReminderDailyGoal)
	res, _ := env.outbox.Flush(ctx, "alice")
	if res.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", res.Delivered)
	}
}
