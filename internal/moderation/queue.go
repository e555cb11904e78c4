package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"FeedCurator/internal/domain"
	"FeedCurator/internal/locks"
	"FeedCurator/internal/metrics"
	"FeedCurator/internal/ports"
)

// JobScheduler manages the pending publication jobs for scheduled items.
type JobScheduler interface {
	Schedule(fingerprint string, fireAt time.Time)
	Cancel(fingerprint string)
}

// Queue holds accepted items awaiting a human decision and applies the
// moderator's commands. Decisions against the wrong state fail with
// domain.ErrInvalidState and never mutate the item; schedule requests in
// the past fail with domain.ErrInvalidTime. Every decision runs under the
// per-item lock, so a cancel racing a scheduler fire is resolved by
// whichever side acquires the lock first.
type Queue struct {
	store  ports.ItemStore
	sched  JobScheduler
	locks  *locks.Keyed
	logger *slog.Logger
	now    func() time.Time
}

// New constructs the moderation queue.
func New(store ports.ItemStore, sched JobScheduler, keyed *locks.Keyed, logger *slog.Logger) *Queue {
	return &Queue{
		store:  store,
		sched:  sched,
		locks:  keyed,
		logger: logger,
		now:    time.Now,
	}
}

// Pending lists the items awaiting moderation, oldest first. Each carries
// its score and styled text for the presentation layer to render.
func (q *Queue) Pending(ctx context.Context) ([]domain.Item, error) {
	return q.store.ByState(ctx, domain.StateAwaitingModeration)
}

// Admit surfaces an accepted item to the moderator.
func (q *Queue) Admit(ctx context.Context, fingerprint string) error {
	unlock := q.locks.Lock(fingerprint)
	defer unlock()

	item, err := q.store.Get(ctx, fingerprint)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	if item.State != domain.StateAccepted {
		return domain.ErrInvalidState
	}

	item.State = domain.StateAwaitingModeration
	return q.transition(ctx, item, domain.StateAccepted, "pipeline", "entered moderation queue")
}

// ApproveNow schedules the item for immediate publication.
func (q *Queue) ApproveNow(ctx context.Context, fingerprint string) error {
	return q.scheduleAt(ctx, fingerprint, q.now().UTC(), "approve", "approve-now")
}

// Schedule plans publication for a strictly future instant.
func (q *Queue) Schedule(ctx context.Context, fingerprint string, at time.Time) error {
	if !at.After(q.now()) {
		return domain.ErrInvalidTime
	}
	return q.scheduleAt(ctx, fingerprint, at.UTC(), "schedule", fmt.Sprintf("scheduled for %s", at.UTC().Format(time.RFC3339)))
}

func (q *Queue) scheduleAt(ctx context.Context, fingerprint string, at time.Time, decision, note string) error {
	unlock := q.locks.Lock(fingerprint)
	defer unlock()

	item, err := q.store.Get(ctx, fingerprint)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	if item.State != domain.StateAwaitingModeration {
		return domain.ErrInvalidState
	}

	item.State = domain.StateScheduled
	item.ScheduledAt = &at
	if err := q.transition(ctx, item, domain.StateAwaitingModeration, "moderator", note); err != nil {
		return err
	}

	q.sched.Schedule(fingerprint, at)
	metrics.Decisions.WithLabelValues(decision).Inc()
	q.logger.Info("item scheduled", "fingerprint", fingerprint, "fire_at", at)
	return nil
}

// Edit replaces the styled text and re-surfaces the item to the moderator.
func (q *Queue) Edit(ctx context.Context, fingerprint, text string) error {
	unlock := q.locks.Lock(fingerprint)
	defer unlock()

	item, err := q.store.Get(ctx, fingerprint)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	if item.State != domain.StateAwaitingModeration {
		return domain.ErrInvalidState
	}

	item.StyledText = text
	if err := q.transition(ctx, item, domain.StateAwaitingModeration, "moderator", "text edited: "+text); err != nil {
		return err
	}

	metrics.Decisions.WithLabelValues("edit").Inc()
	return nil
}

// Reject terminally drops an item awaiting moderation.
func (q *Queue) Reject(ctx context.Context, fingerprint string) error {
	unlock := q.locks.Lock(fingerprint)
	defer unlock()

	item, err := q.store.Get(ctx, fingerprint)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	if item.State != domain.StateAwaitingModeration {
		return domain.ErrInvalidState
	}

	item.State = domain.StateRejected
	item.RejectReason = domain.ReasonModerator
	if err := q.transition(ctx, item, domain.StateAwaitingModeration, "moderator", "rejected by moderator"); err != nil {
		return err
	}

	metrics.Decisions.WithLabelValues("reject").Inc()
	q.logger.Info("item rejected by moderator", "fingerprint", fingerprint)
	return nil
}

// Cancel removes a scheduled item's job and returns it to the queue.
// If the job already fired, the item is no longer Scheduled and the call
// fails with domain.ErrInvalidState.
func (q *Queue) Cancel(ctx context.Context, fingerprint string) error {
	unlock := q.locks.Lock(fingerprint)
	defer unlock()

	item, err := q.store.Get(ctx, fingerprint)
	if err != nil {
		return fmt.Errorf("load item: %w", err)
	}
	if item.State != domain.StateScheduled {
		return domain.ErrInvalidState
	}

	q.sched.Cancel(fingerprint)

	item.State = domain.StateAwaitingModeration
	item.ScheduledAt = nil
	if err := q.transition(ctx, item, domain.StateScheduled, "moderator", "schedule cancelled"); err != nil {
		return err
	}

	metrics.Decisions.WithLabelValues("cancel").Inc()
	return nil
}

func (q *Queue) transition(ctx context.Context, item domain.Item, from domain.State, actor, note string) error {
	if !domain.ValidTransition(from, item.State) {
		return fmt.Errorf("transition %s -> %s not permitted", from, item.State)
	}
	if err := q.store.Update(ctx, item); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if err := q.store.AppendAudit(ctx, domain.AuditEntry{
		Fingerprint: item.Fingerprint,
		FromState:   from,
		ToState:     item.State,
		Actor:       actor,
		Note:        note,
		CreatedAt:   q.now().UTC(),
	}); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}
