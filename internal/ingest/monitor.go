package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"FeedCurator/internal/dedup"
	"FeedCurator/internal/domain"
	"FeedCurator/internal/metrics"
	"FeedCurator/internal/ports"
)

// Enqueuer hands freshly created items to the scoring stage.
type Enqueuer interface {
	Enqueue(fingerprint string)
}

// Monitor watches the configured source feeds, deduplicates what they
// produce, and creates new items. Push transports call OnNewMessage
// directly; pull transports go through the Run poll loop.
type Monitor struct {
	sources  []ports.SourceFeed
	index    *dedup.Index
	store    ports.ItemStore
	scorer   Enqueuer
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Deps wires the monitor's collaborators.
type Deps struct {
	Sources  []ports.SourceFeed
	Index    *dedup.Index
	Store    ports.ItemStore
	Scorer   Enqueuer
	Interval time.Duration
	Logger   *slog.Logger
}

// NewMonitor constructs the ingestion monitor.
func NewMonitor(deps Deps) *Monitor {
	interval := deps.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		sources:  deps.Sources,
		index:    deps.Index,
		store:    deps.Store,
		scorer:   deps.Scorer,
		interval: interval,
		logger:   deps.Logger,
		now:      time.Now,
	}
}

// Run polls every source on a fixed interval until the context ends.
// A failing source is logged and retried on the next cycle.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

func (m *Monitor) pollOnce(ctx context.Context) {
	for _, source := range m.sources {
		messages, err := source.Fetch(ctx)
		if err != nil {
			m.logger.Warn("source fetch failed", "source", source.Name(), "error", err)
			continue
		}

		for _, msg := range messages {
			if _, err := m.OnNewMessage(ctx, msg); err != nil && !errors.Is(err, domain.ErrDuplicate) {
				m.logger.Error("ingest message failed", "source", source.Name(), "error", err)
			}
		}
	}
}

// OnNewMessage is the single entry point for new candidates. It returns the
// fingerprint of the created item, or domain.ErrDuplicate if the message was
// already ingested. No item is created on a store failure.
func (m *Monitor) OnNewMessage(ctx context.Context, msg domain.SourceMessage) (string, error) {
	fingerprint := domain.Fingerprint(msg.Source.ChannelID, msg.Source.MessageID)

	seen, err := m.index.Seen(ctx, fingerprint)
	if err != nil {
		return "", fmt.Errorf("dedup check: %w", err)
	}
	if seen {
		metrics.Duplicates.Inc()
		return "", domain.ErrDuplicate
	}

	item := domain.NewItem(msg, m.now())
	if err := m.store.Create(ctx, item); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			// lost a race with another writer for the same fingerprint
			m.index.Mark(fingerprint)
			metrics.Duplicates.Inc()
			return "", domain.ErrDuplicate
		}
		return "", fmt.Errorf("create item: %w", err)
	}

	if err := m.store.AppendAudit(ctx, domain.AuditEntry{
		Fingerprint: fingerprint,
		FromState:   domain.StateNew,
		ToState:     domain.StateNew,
		Actor:       "ingest",
		Note:        "discovered",
		CreatedAt:   m.now().UTC(),
	}); err != nil {
		m.logger.Error("audit discovery failed", "fingerprint", fingerprint, "error", err)
	}

	m.index.Mark(fingerprint)
	metrics.ItemsIngested.Inc()
	m.logger.Info("item ingested", "fingerprint", fingerprint, "channel", msg.Source.ChannelID, "message", msg.Source.MessageID)

	if m.scorer != nil {
		m.scorer.Enqueue(fingerprint)
	}

	return fingerprint, nil
}
