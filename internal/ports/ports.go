package ports

import (
	"context"
	"time"

	"FeedCurator/internal/domain"
)

// ItemStore persists items and the append-only transition audit log.
type ItemStore interface {
	Create(ctx context.Context, item domain.Item) error
	Get(ctx context.Context, fingerprint string) (domain.Item, error)
	Update(ctx context.Context, item domain.Item) error
	Exists(ctx context.Context, fingerprint string) (bool, error)
	ByState(ctx context.Context, state domain.State) ([]domain.Item, error)
	PublishedSince(ctx context.Context, since time.Time) ([]domain.Item, error)
	AppendAudit(ctx context.Context, entry domain.AuditEntry) error
	AuditFor(ctx context.Context, fingerprint string) ([]domain.AuditEntry, error)
}

// Engine scores an item for relevance and rewrites it in the target voice.
type Engine interface {
	Analyze(ctx context.Context, text string, media []domain.MediaRef) (domain.Review, error)
}

// SourceFeed pulls fresh messages from one upstream feed. Push transports
// bypass Fetch and call the ingestion monitor directly.
type SourceFeed interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.SourceMessage, error)
}

// DestinationFeed delivers formatted content and returns its destination reference.
type DestinationFeed interface {
	Send(ctx context.Context, text string, media []domain.MediaRef) (string, error)
}

// Notifier surfaces pipeline failures and publications to the moderator channel.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}
