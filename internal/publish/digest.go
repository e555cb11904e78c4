package publish

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const digestWindow = 24 * time.Hour

// Digest publishes the recurring daily summary of what went out in the
// last 24 hours. It bypasses moderation: the digest is not an item.
func (p *Publisher) Digest(ctx context.Context, now time.Time) error {
	items, err := p.store.PublishedSince(ctx, now.Add(-digestWindow))
	if err != nil {
		return fmt.Errorf("load published items: %w", err)
	}

	if len(items) == 0 {
		p.logger.Debug("digest skipped, nothing published in window")
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Digest for %s: %d posts\n", now.UTC().Format("2006-01-02"), len(items))
	for _, item := range items {
		fmt.Fprintf(&b, "- %s\n", headline(Format(item)))
	}

	ref, err := p.dest.Send(ctx, strings.TrimSpace(b.String()), nil)
	if err != nil {
		return fmt.Errorf("send digest: %w", err)
	}

	p.logger.Info("digest published", "items", len(items), "destination", ref)
	return nil
}

// headline keeps the first line of a post, truncated to a preview length.
func headline(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	const max = 80
	runes := []rune(text)
	if len(runes) > max {
		return string(runes[:max]) + "…"
	}
	return text
}
