package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dukerupert/lingo/internal/model"
	"github.com/dukerupert/lingo/internal/push"
)

var tracer = otel.Tracer("github.com/dukerupert/lingo/internal/reminder")

var (
	// ErrUnknownLearner is returned by Trigger when the user has no profile.
	ErrUnknownLearner = errors.New("unknown learner")
	// ErrDelivery wraps a permanent push failure. Other evaluation errors
	// come from storage.
	ErrDelivery = errors.New("reminder delivery")
)

// Outcome is the result of evaluating one rule for one user.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDisabled  Outcome = "disabled"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSent      Outcome = "sent"
	OutcomeFailed    Outcome = "failed"
	OutcomeQueued    Outcome = "queued"
)

type Learners interface {
	ListReminderCandidates(ctx context.Context, now time.Time) ([]model.LearnerState, error)
	GetLearner(ctx context.Context, userID string, now time.Time) (*model.LearnerState, error)
}

type Preferences interface {
	IsReminderEnabled(ctx context.Context, userID string, kind model.ReminderKind) (bool, error)
}

// Markers stores idempotency markers. Claim must be atomic.
type Markers interface {
	Claim(ctx context.Context, m model.ReminderMarker) (bool, error)
	Get(ctx context.Context, key string) (*model.ReminderMarker, error)
	MarkSent(ctx context.Context, key string) error
	Cleanup(ctx context.Context, before time.Time) (int64, error)
}

type Intents interface {
	Enqueue(ctx context.Context, in *model.ReminderIntent) error
	List(ctx context.Context, userID string) ([]model.ReminderIntent, error)
	Delete(ctx context.Context, id string) error
	// Claim must succeed for at most one caller per intent until the lease
	// expires or the intent is released.
	Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error)
	Release(ctx context.Context, id string) error
}

// Delivery is the delivery entry point.
type Delivery interface {
	Deliver(ctx context.Context, userID string, kind model.ReminderKind, params model.ReminderParams) error
}

// Config controls the evaluator loop.
type Config struct {
	Interval        time.Duration
	MarkerRetention time.Duration
}

// Evaluator periodically decides which reminders are due and sends them.
type Evaluator struct {
	mu        sync.RWMutex
	learners  Learners
	prefs     Preferences
	markers   Markers
	intents   Intents
	delivery  Delivery
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewEvaluator creates a reminder evaluator.
func NewEvaluator(cfg Config, learners Learners, prefs Preferences, markers Markers, intents Intents, delivery Delivery, logger *slog.Logger) *Evaluator {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.MarkerRetention <= 0 {
		cfg.MarkerRetention = 14 * 24 * time.Hour
	}
	return &Evaluator{
		learners:  learners,
		prefs:     prefs,
		markers:   markers,
		intents:   intents,
		delivery:  delivery,
		interval:  cfg.Interval,
		retention: cfg.MarkerRetention,
		now:       time.Now,
		logger:    logger,
	}
}

// SetClock replaces the time source.
func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// Start runs one tick immediately and then one per interval until Stop is
// called or ctx is cancelled. Calls while the loop is running are ignored.
func (e *Evaluator) Start(ctx context.Context) {
	e.mu.Lock()
	if e.done != nil {
		e.mu.Unlock()
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	e.done = done
	e.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		cleanup := time.NewTicker(24 * time.Hour)
		defer cleanup.Stop()

		e.runTick(ctx)
		e.cleanup(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.runTick(ctx)
			case <-cleanup.C:
				e.cleanup(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the current tick to finish.
func (e *Evaluator) Stop() {
	e.mu.RLock()
	cancel := e.cancel
	done := e.done
	e.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	e.mu.Lock()
	if e.done == done {
		e.cancel = nil
		e.done = nil
	}
	e.mu.Unlock()
}

func (e *Evaluator) runTick(ctx context.Context) {
	if err := e.Tick(ctx); err != nil {
		e.logger.Error("reminder tick", "error", err)
	}
}

// Tick evaluates every rule for every candidate once. Rule failures are
// logged and do not stop the tick; only failing to list candidates is
// returned.
func (e *Evaluator) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { tickDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := tracer.Start(ctx, "reminder.tick")
	defer span.End()

	now := e.now()
	states, err := e.learners.ListReminderCandidates(ctx, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list candidates")
		return fmt.Errorf("list candidates: %w", err)
	}
	span.SetAttributes(attribute.Int("reminder.candidates", len(states)))

	var sent int
	for _, st := range states {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, outcome := range e.EvaluateUser(ctx, st, now) {
			if outcome == OutcomeSent {
				sent++
			}
		}
	}
	span.SetAttributes(attribute.Int("reminder.sent", sent))
	e.logger.Debug("reminder tick complete", "candidates", len(states), "sent", sent)
	return nil
}

// EvaluateUser runs the three rules for one learner. Each rule is isolated:
// an error in one is logged and does not affect the others.
func (e *Evaluator) EvaluateUser(ctx context.Context, st model.LearnerState, now time.Time) map[model.ReminderKind]Outcome {
	outcomes := make(map[model.ReminderKind]Outcome, len(model.ReminderKinds))
	for _, kind := range model.ReminderKinds {
		outcome, err := e.evaluate(ctx, st, kind, now, false)
		if err != nil {
			e.logger.Error("reminder rule", "user_id", st.UserID, "kind", kind, "outcome", outcome, "error", err)
		}
		outcomes[kind] = outcome
	}
	return outcomes
}

// Trigger forces one rule for a user outside the timer. Time-of-day
// conditions are bypassed; state conditions and idempotency are not.
func (e *Evaluator) Trigger(ctx context.Context, userID string, kind model.ReminderKind) (Outcome, error) {
	now := e.now()
	st, err := e.learners.GetLearner(ctx, userID, now)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("get learner: %w", err)
	}
	if st == nil {
		return OutcomeFailed, ErrUnknownLearner
	}
	return e.evaluate(ctx, *st, kind, now, true)
}

func (e *Evaluator) evaluate(ctx context.Context, st model.LearnerState, kind model.ReminderKind, now time.Time, manual bool) (outcome Outcome, err error) {
	defer func() { evaluationsTotal.WithLabelValues(string(kind), string(outcome)).Inc() }()

	due, ok := rules[kind]
	if !ok {
		return OutcomeFailed, fmt.Errorf("unknown reminder kind %q", kind)
	}
	params, isDue := due(st, now, manual)
	if !isDue {
		return OutcomeSkipped, nil
	}

	enabled, err := e.prefs.IsReminderEnabled(ctx, st.UserID, kind)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("reminder preference: %w", err)
	}
	if !enabled {
		return OutcomeDisabled, nil
	}

	local := st.Local(now)
	marker := model.NewReminderMarker(kind, st.UserID, local)
	claimed, err := e.markers.Claim(ctx, marker)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("claim marker: %w", err)
	}
	if !claimed {
		return OutcomeDuplicate, nil
	}

	if err := e.delivery.Deliver(ctx, st.UserID, kind, params); err != nil {
		if !errors.Is(err, push.ErrUnavailable) {
			return OutcomeFailed, fmt.Errorf("%w: %w", ErrDelivery, err)
		}
		intent := &model.ReminderIntent{
			UserID:    st.UserID,
			Kind:      kind,
			MarkerKey: marker.Key,
			Params:    params,
			ExpiresAt: windowEnd(local),
		}
		if qerr := e.intents.Enqueue(ctx, intent); qerr != nil {
			return OutcomeFailed, errors.Join(err, qerr)
		}
		e.logger.Warn("reminder queued for background sync", "user_id", st.UserID, "kind", kind, "error", err)
		return OutcomeQueued, nil
	}

	if err := e.markers.MarkSent(ctx, marker.Key); err != nil {
		e.logger.Error("mark reminder sent", "key", marker.Key, "error", err)
	}
	e.logger.Info("reminder sent", "user_id", st.UserID, "kind", kind, "key", marker.Key)
	return OutcomeSent, nil
}

func (e *Evaluator) cleanup(ctx context.Context) {
	before := e.now().Add(-e.retention)
	n, err := e.markers.Cleanup(ctx, before)
	if err != nil {
		e.logger.Error("cleanup reminder markers", "error", err)
		return
	}
	if n > 0 {
		e.logger.Info("cleaned up reminder markers", "count", n)
	}
}
