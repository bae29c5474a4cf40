package reminder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/dukerupert/lingo/internal/database"
	"github.com/dukerupert/lingo/internal/model"
	"github.com/dukerupert/lingo/internal/push"
	"github.com/dukerupert/lingo/internal/store"
)

type delivery struct {
	UserID string
	Kind   model.ReminderKind
	Params model.ReminderParams
}

type fakeDelivery struct {
	mu    sync.Mutex
	calls []delivery
	err   map[model.ReminderKind]error
	delay time.Duration
}

func (f *fakeDelivery) Deliver(ctx context.Context, userID string, kind model.ReminderKind, params model.ReminderParams) error {
	f.mu.Lock()
	f.calls = append(f.calls, delivery{UserID: userID, Kind: kind, Params: params})
	err := f.err[kind]
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (f *fakeDelivery) count(kind model.ReminderKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

type testEnv struct {
	eval     *Evaluator
	outbox   *Outbox
	push     *store.PushStore
	learners *store.LearnerStore
	markers  *store.MarkerStore
	intents  *store.IntentStore
	delivery *fakeDelivery
	now      time.Time
}

func (e *testEnv) clock() time.Time { return e.now }

func setupEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		push:     store.NewPushStore(db),
		learners: store.NewLearnerStore(db),
		markers:  store.NewMarkerStore(db),
		intents:  store.NewIntentStore(db),
		delivery: &fakeDelivery{err: map[model.ReminderKind]error{}},
		now:      now,
	}
	env.eval = NewEvaluator(Config{Interval: time.Hour}, env.learners, env.push, env.markers, env.intents, env.delivery, logger)
	env.eval.SetClock(env.clock)
	env.outbox = NewOutbox(env.intents, env.markers, env.delivery, logger)
	env.outbox.SetClock(env.clock)
	return env
}

func (e *testEnv) addLearner(t *testing.T, p model.Profile, learnedToday int) {
	t.Helper()
	ctx := context.Background()
	if err := e.learners.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	if err := e.learners.SetProgress(ctx, p.UserID, e.now.Format("2006-01-02"), learnedToday); err != nil {
		t.Fatalf("set progress: %v", err)
	}
	_, err := e.push.Register(ctx, store.SubscriptionInput{
		UserID: p.UserID, Endpoint: "https://push.example.com/" + p.UserID, P256dh: "k", Auth: "a",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
}

func TestDailyGoalSentOncePerDay(t *testing.T) {
	env := setupEnv(t, time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC))
	env.addLearner(t, model.Profile{UserID: "alice", DailyGoal: 10}, 3)
	ctx := context.Background()

	if err := env.eval.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if n := env.delivery.count(model.ReminderDailyGoal); n != 1 {
		t.Fatalf("daily-goal sends = %d, want 1", n)
	}
	got := env.delivery.calls[0]
	if got.Params.Learned != 3 || got.Params.Goal != 10 {
		t.Errorf("params = %+v, want learned 3 goal 10", got.Params)
	}

	marker, err := env.markers.Get(ctx, "daily-goal_alice_2025-03-10")
	if err != nil || marker == nil {
		t.Fatalf("marker = %v, %v", marker, err)
	}
	if marker.Status != model.MarkerSent {
		t.Errorf("marker status = %q, want %q", marker.Status, model.MarkerSent)
	}

	env.now = time.Date(2025, 3, 10, 18, 30, 0, 0, time.UTC)
	env.eval.Tick(ctx)
	if n := env.delivery.count(model.ReminderDailyGoal); n != 1 {
		t.Errorf("daily-goal sends after second tick = %d, want 1", n)
	}
	if len(env.delivery.calls) != 1 {
		t.Errorf("total sends = %d, want 1", len(env.delivery.calls))
	}
}

func TestDailyGoalNotSentWhenMet(t *testing.T) {
	env := setupEnv(t, time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC))
	env.addLearner(t, model.Profile{UserID: "alice", DailyGoal: 10}, 10)

	env.eval.Tick(context.Background())
	if n := env.delivery.count(model.ReminderDailyGoal); n != 0 {
		t.Errorf("daily-goal sends = %d, want 0", n)
	}
}

func TestDailyGoalUsesLocalHour(t *testing.T) {
	// 22:00 UTC is 18:00 in New York during DST.
	env := setupEnv(t, time.Date(2025, 7, 1, 22, 0, 0, 0, time.UTC))
	env.addLearner(t, model.Profile{UserID: "alice", DailyGoal: 10, Timezone: "America/New_York"}, 0)

	env.eval.Tick(context.Background())
	if n := env.delivery.count(model.ReminderDailyGoal); n != 1 {
		t.Errorf("daily-goal sends = %d, want 1", n)
	}
}

func TestStreakAtRisk(t *testing.T) {
	now := time.Date(2025, 3, 10, 21, 0, 0, 0, time.UTC)
	last := now.Add(-21 * time.Hour)
	env := setupEnv(t, now)
	env.addLearner(t, model.Profile{UserID: "alice", DailyGoal: 10, StreakCount: 5, LastActivity: &last}, 0)

	env.eval.Tick(context.Background())
	if n := env.delivery.count(model.ReminderStreak); n != 1 {
		t.Fatalf("streak sends = %d, want 1", n)
	}
	var got delivery
	for _, c := range env.delivery.calls {
		if c.Kind == model.ReminderStreak {
			got = c
		}
	}
	if got.Params.HoursLeft != 3 {
		t.Errorf("hoursLeft = %d, want 3", got.Params.HoursLeft)
	}
	if got.Params.Streak != 5 {
		t.Errorf("streak = %d, want 5", got.Params.Streak)
	}

	env.now = now.Add(time.Hour)
	env.eval.Tick(context.Background())
	if n := env.delivery.count(model.ReminderStreak); n != 1 {
		t.Errorf("streak sends after second tick = %d, want 1", n)
	}
}

func TestStreakRules(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		idle   time.Duration
		streak int
		manual bool
		want   bool
		left   int
	}{
		{name: "too recent", idle: 20 * time.Hour, streak: 3, want: false},
		{name: "in window", idle: 20*time.Hour + time.Minute, streak: 3, want: true, left: 3},
		{name: "almost lost", idle: 23*time.Hour + 30*time.Minute, streak: 3, want: true, left: 1},
		{name: "already lost", idle: 24 * time.Hour, streak: 3, want: false},
		{name: "no streak", idle: 22 * time.Hour, streak: 0, want: false},
		{name: "manual outside window", idle: 2 * time.Hour, streak: 3, manual: true, want: true, left: 22},
		{name: "manual past window", idle: 30 * time.Hour, streak: 3, manual: true, want: true, left: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := model.LearnerState{UserID: "u", StreakCount: tt.streak, LastActivity: now.Add(-tt.idle)}
			params, due := streakDue(st, now, tt.manual)
			if due != tt.want {
				t.Fatalf("due = %v, want %v", due, tt.want)
			}
			if due && params.HoursLeft != tt.left {
				t.Errorf("hoursLeft = %d, want %d", params.HoursLeft, tt.left)
			}
		})
	}
}

func TestStreakUnknownLastActivity(t *testing.T) {
	st := model.LearnerState{UserID: "u", StreakCount: 4}
	if _, due := streakDue(st, time.Now(), true); due {
		t.Error("expected no streak reminder without last activity")
	}
}

func TestLessonSlots(t *testing.T) {
	env := setupEnv(t, time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	env.addLearner(t, model.Profile{UserID: "alice", DailyGoal: 10}, 0)
	ctx := context.Background()

	env.eval.Tick(ctx)
	env.now = time.Date(2025, 3, 10, 10, 45, 0, 0, time.UTC)
	env.eval.Tick(ctx)
	if n := env.delivery.count(model.ReminderLesson); n != 1 {
		t.Fatalf("lesson sends after 10:xx = %d, want 1", n)
	}

	env.now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	env.eval.Tick(ctx)
	if n := env.delivery.count(model.ReminderLesson); n != 1 {
		t.Fatalf("lesson sends after 12:00 = %d, want 1", n)
	}

	env.now = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	env.eval.Tick(ctx)
	if n := env.delivery.count(model.ReminderLesson); n != 2 {
		t.Errorf("lesson sends after 15:00 = %d, want 2", n)
	}
}

func TestDisabledKindSkipped(t *testing.T) {
	env := setupEnv(t, time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC))
	env.addLearner(t, model.Profile{UserID: "alice", DailyGoal: 10}, 0)
	ctx := context.Background()
	env.push.SetReminderPreference(ctx, "alice", model.ReminderDailyGoal, false)

	st, _ := env.learners.GetLearner(ctx, "alice", env.now)
	outcomes := env.eval.EvaluateUser(ctx, *st, env.now)
	if outcomes[model.ReminderDailyGoal] != OutcomeDisabled {
		t.Errorf("outcome = %q, want %q", outcomes[model.ReminderDailyGoal], OutcomeDisabled)
	}
	if len(env.delivery.calls) != 0 {
		t.Errorf("sends = %d, want 0", len(env.delivery.calls))
	}
}

func TestRuleFailureIsolated(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	last := now.Add(-22 * time.Hour)
	env := setupEnv(t, now)
	env.addLearner(t, model.Profile{UserID: "alice", DailyGoal: 10, StreakCount: 2, LastActivity: &last}, 0)
	env.addLearner(t, model.Profile{UserID: "bob", DailyGoal: 10}, 0)
	env.delivery.err[model.ReminderStreak] = errors.New("push service returned 400")
	ctx := context.Background()

	st, _ := env.learners.GetLearner(ctx, "alice", now)
	outcomes := env.eval.EvaluateUser(ctx, *st, now)
	if outcomes[model.ReminderStreak] != OutcomeFailed {
		t.Errorf("streak outcome = %q, want failed", outcomes[model.ReminderStreak])
	}
	if outcomes[model.ReminderLesson] != OutcomeSent {
		t.Errorf("lesson outcome = %q, want sent", outcomes[model.ReminderLesson])
	}

	// The failed window stays claimed.
	outcome, err := env.eval.Trigger(ctx, "alice", model.ReminderStreak)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Errorf("retrigger outcome = %q, want duplicate", outcome)
	}

	env.eval.Tick(ctx)
	if n := env.delivery.count(model.ReminderLesson); n != 2 {
		t.Errorf("lesson sends = %d, want 2 (alice and bob)", n)
	}
}

func TestTransientFailureQueued(t *testing.T) {
	env := setupEnv(t, time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC))
	env.addLearner(t, model.Profile{UserID: "alice", DailyGoal: 10}, 2)
	env.delivery.err[model.ReminderDailyGoal] = push.ErrUnavailable
	ctx := context.Background()

	st, _ := env.learners.GetLearner(ctx, "alice", env.now)
	outcomes := env.eval.EvaluateUser(ctx, *st, env.now)
	if outcomes[model.ReminderDailyGoal] != OutcomeQueued {
		t.Fatalf("outcome = %q, want queued", outcomes[model.ReminderDailyGoal])
	}

	intents, err := env.intents.List(ctx, "alice")
	if err != nil {
		t.Fatalf("list intents: %v", err)
	}
	if len(intents) != 1 {
		t.Fatalf("intents = %d, want 1", len(intents))
	}
	in := intents[0]
	if in.MarkerKey != "daily-goal_alice_2025-03-10" {
		t.Errorf("marker key = %q", in.MarkerKey)
	}
	if want := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC); !in.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", in.ExpiresAt, want)
	}
	if in.Params.Learned != 2 || in.Params.Goal != 10 {
		t.Errorf("params = %+v", in.Params)
	}

	marker, _ := env.markers.Get(ctx, in.MarkerKey)
	if marker == nil || marker.Status != model.MarkerPending {
		t.Errorf("marker = %+v, want pending", marker)
	}
}

func TestManualTrigger(t *testing.T) {
	env := setupEnv(t, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	env.addLearner(t, model.Profile{UserID: "alice", DailyGoal: 10}, 4)
	ctx := context.Background()

	outcome, err := env.eval.Trigger(ctx, "alice", model.ReminderDailyGoal)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if outcome != OutcomeSent {
		t.Errorf("outcome = %q, want sent", outcome)
	}

	outcome, _ = env.eval.Trigger(ctx, "alice", model.ReminderDailyGoal)
	if outcome != OutcomeDuplicate {
		t.Errorf("second outcome = %q, want duplicate", outcome)
	}

	// No last activity: streak state condition still applies.
	outcome, _ = env.eval.Trigger(ctx, "alice", model.ReminderStreak)
	if outcome != OutcomeSkipped {
		t.Errorf("streak outcome = %q, want skipped", outcome)
	}

	outcome, _ = env.eval.Trigger(ctx, "alice", model.ReminderLesson)
	if outcome != OutcomeSent {
		t.Errorf("lesson outcome = %q, want sent", outcome)
	}
	if m, _ := env.markers.Get(ctx, "lesson_alice_2025-03-10_9"); m == nil {
		t.Error("expected lesson marker for the current hour slot")
	}

	if _, err := env.eval.Trigger(ctx, "nobody", model.ReminderLesson); !errors.Is(err, ErrUnknownLearner) {
		t.Errorf("err = %v, want ErrUnknownLearner", err)
	}
}

func TestStartRunsImmediateTick(t *testing.T) {
	env := setupEnv(t, time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC))
	env.addLearner(t, model.Profile{UserID: "alice", DailyGoal: 10}, 0)

	env.eval.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for env.delivery.count(model.ReminderDailyGoal) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	env.eval.Stop()

	if n := env.delivery.count(model.ReminderDailyGoal); n != 1 {
		t.Errorf("daily-goal sends = %d, want 1", n)
	}
}

func TestStartTwiceKeepsOneLoop(t *testing.T) {
	env := setupEnv(t, time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC))
	ctx := context.Background()

	env.eval.Start(ctx)
	first := env.eval.done
	env.eval.Start(ctx)
	if env.eval.done != first {
		t.Fatal("second Start replaced the running loop")
	}

	env.eval.Stop()
	select {
	case <-first:
	default:
		t.Error("loop still running after Stop")
	}

	env.eval.Start(ctx)
	if env.eval.done == nil || env.eval.done == first {
		t.Error("Start after Stop did not start a new loop")
	}
	env.eval.Stop()
}

func TestTriggerDeliveryFailureWrapped(t *testing.T) {
	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	env := setupEnv(t, now)
	env.addLearner(t, model.Profile{UserID: "alice", DailyGoal: 10}, 2)
	env.delivery.err[model.ReminderDailyGoal] = errors.New("push service returned 400")

	outcome, err := env.eval.Trigger(context.Background(), "alice", model.ReminderDailyGoal)
	if outcome != OutcomeFailed {
		t.Errorf("outcome = %q, want failed", outcome)
	}
	if !errors.Is(err, ErrDelivery) {
		t.Errorf("err = %v, want ErrDelivery", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	env := setupEnv(t, time.Now())
	env.eval.Stop()
}
