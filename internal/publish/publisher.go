package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"FeedCurator/internal/domain"
	"FeedCurator/internal/metrics"
	"FeedCurator/internal/ports"
)

// Publisher formats item content and delivers it to the destination feed.
// Callers hold the per-item lock and have already verified the item is
// Scheduled with an unfired job, which makes delivery idempotent per item.
type Publisher struct {
	store       ports.ItemStore
	dest        ports.DestinationFeed
	notifier    ports.Notifier
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// Deps wires the publisher's collaborators and retry policy.
type Deps struct {
	Store       ports.ItemStore
	Destination ports.DestinationFeed
	Notifier    ports.Notifier
	MaxAttempts int
	Backoff     time.Duration
	Logger      *slog.Logger
}

// New constructs the publisher.
func New(deps Deps) *Publisher {
	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := deps.Backoff
	if backoff <= 0 {
		backoff = 30 * time.Second
	}

	return &Publisher{
		store:       deps.Store,
		dest:        deps.Destination,
		notifier:    deps.Notifier,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      deps.Logger,
		now:         time.Now,
	}
}

// Publish attempts one delivery. On transient failure it records the
// attempt and returns the instant for the next one; after MaxAttempts the
// item is terminally rejected and the moderator is notified.
func (p *Publisher) Publish(ctx context.Context, fingerprint string) (*time.Time, error) {
	item, err := p.store.Get(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}
	if item.State != domain.StateScheduled {
		return nil, domain.ErrInvalidState
	}

	ref, sendErr := p.dest.Send(ctx, Format(item), item.Media)
	if sendErr == nil {
		now := p.now().UTC()
		item.State = domain.StatePublished
		item.DestinationRef = ref
		item.PublishedAt = &now
		if err := p.transition(ctx, item, domain.StateScheduled, "published to "+ref); err != nil {
			return nil, err
		}
		metrics.Published.Inc()
		p.logger.Info("item published", "fingerprint", fingerprint, "destination", ref)
		p.notify(ctx, fmt.Sprintf("Published: %s", ref))
		return nil, nil
	}

	metrics.PublishFailures.Inc()
	item.PublishAttempts++

	if item.PublishAttempts >= p.maxAttempts {
		item.State = domain.StateRejected
		item.RejectReason = domain.ReasonPublishFailed
		item.ScheduledAt = nil
		if err := p.transition(ctx, item, domain.StateScheduled, fmt.Sprintf("publish retries exhausted: %v", sendErr)); err != nil {
			return nil, err
		}
		p.logger.Error("publish retries exhausted", "fingerprint", fingerprint, "error", sendErr)
		p.notify(ctx, fmt.Sprintf("Publication failed after %d attempts: %s", item.PublishAttempts, fingerprint))
		return nil, &domain.PublishError{Err: sendErr}
	}

	if err := p.transition(ctx, item, domain.StateScheduled, fmt.Sprintf("publish failure %d/%d: %v", item.PublishAttempts, p.maxAttempts, sendErr)); err != nil {
		return nil, err
	}

	rearmAt := p.now().UTC().Add(p.backoff << (item.PublishAttempts - 1))
	return &rearmAt, &domain.PublishError{Err: sendErr}
}

// Format renders the destination message: styled text when scoring
// produced one, raw text otherwise, with the source permalink appended.
func Format(item domain.Item) string {
	text := item.StyledText
	if text == "" {
		text = item.RawText
	}
	text = strings.TrimSpace(text)

	if item.Source.Permalink != "" {
		text += "\n\n" + item.Source.Permalink
	}
	return text
}

func (p *Publisher) transition(ctx context.Context, item domain.Item, from domain.State, note string) error {
	if !domain.ValidTransition(from, item.State) {
		return fmt.Errorf("transition %s -> %s not permitted", from, item.State)
	}
	if err := p.store.Update(ctx, item); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if err := p.store.AppendAudit(ctx, domain.AuditEntry{
		Fingerprint: item.Fingerprint,
		FromState:   from,
		ToState:     item.State,
		Actor:       "publisher",
		Note:        note,
		CreatedAt:   p.now().UTC(),
	}); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (p *Publisher) notify(ctx context.Context, message string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, message); err != nil {
		p.logger.Warn("moderator notification failed", "error", err)
	}
}
