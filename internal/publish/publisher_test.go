package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FeedCurator/internal/domain"
	"FeedCurator/internal/store"
)

type fakeDestination struct {
	refs  []string
	texts []string
	err   error
}

func (d *fakeDestination) Send(ctx context.Context, text string, media []domain.MediaRef) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	ref := fmt.Sprintf("chat/%d", len(d.refs)+1)
	d.refs = append(d.refs, ref)
	d.texts = append(d.texts, text)
	return ref, nil
}

type fakeNotifier struct {
	messages []string
}

func (n *fakeNotifier) Notify(ctx context.Context, message string) error {
	n.messages = append(n.messages, message)
	return nil
}

func newTestPublisher(t *testing.T, dest *fakeDestination, maxAttempts int) (*Publisher, *store.SQLiteStore, *fakeNotifier) {
	t.Helper()

	s, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	notifier := &fakeNotifier{}
	p := New(Deps{
		Store:       s,
		Destination: dest,
		Notifier:    notifier,
		MaxAttempts: maxAttempts,
		Backoff:     time.Minute,
		Logger:      slog.Default(),
	})

	return p, s, notifier
}

func seedScheduled(t *testing.T, s *store.SQLiteStore, messageID int64) domain.Item {
	t.Helper()

	fireAt := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	item := domain.NewItem(domain.SourceMessage{
		Source: domain.SourceRef{ChannelID: 1, MessageID: messageID, Permalink: "https://t.me/c/1/" + fmt.Sprint(messageID)},
		Text:   "raw text",
	}, fireAt.Add(-time.Hour))
	item.State = domain.StateScheduled
	item.StyledText = "styled text"
	item.ScheduledAt = &fireAt
	require.NoError(t, s.Create(context.Background(), item))
	return item
}

func TestPublishSuccess(t *testing.T) {
	t.Parallel()

	dest := &fakeDestination{}
	p, s, notifier := newTestPublisher(t, dest, 3)
	ctx := context.Background()

	item := seedScheduled(t, s, 1)
	rearmAt, err := p.Publish(ctx, item.Fingerprint)
	require.NoError(t, err)
	assert.Nil(t, rearmAt)

	got, err := s.Get(ctx, item.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePublished, got.State)
	assert.Equal(t, "chat/1", got.DestinationRef)
	require.NotNil(t, got.PublishedAt)

	require.Len(t, dest.texts, 1)
	assert.Contains(t, dest.texts[0], "styled text")
	assert.Contains(t, dest.texts[0], item.Source.Permalink)
	assert.Len(t, notifier.messages, 1)
}

func TestPublishWrongState(t *testing.T) {
	t.Parallel()

	dest := &fakeDestination{}
	p, s, _ := newTestPublisher(t, dest, 3)
	ctx := context.Background()

	item := seedScheduled(t, s, 2)
	item.State = domain.StateAwaitingModeration
	item.ScheduledAt = nil
	require.NoError(t, s.Update(ctx, item))

	_, err := p.Publish(ctx, item.Fingerprint)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Empty(t, dest.refs)
}

func TestPublishTransientFailureRearms(t *testing.T) {
	t.Parallel()

	dest := &fakeDestination{err: fmt.Errorf("api unavailable")}
	p, s, _ := newTestPublisher(t, dest, 3)
	ctx := context.Background()

	now := time.Date(2024, 1, 2, 9, 1, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	item := seedScheduled(t, s, 3)

	rearmAt, err := p.Publish(ctx, item.Fingerprint)
	var pubErr *domain.PublishError
	require.ErrorAs(t, err, &pubErr)
	require.NotNil(t, rearmAt)
	assert.True(t, rearmAt.Equal(now.Add(time.Minute)))

	got, err := s.Get(ctx, item.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, domain.StateScheduled, got.State)
	assert.Equal(t, 1, got.PublishAttempts)

	// backoff doubles on the second failure
	rearmAt, err = p.Publish(ctx, item.Fingerprint)
	require.Error(t, err)
	require.NotNil(t, rearmAt)
	assert.True(t, rearmAt.Equal(now.Add(2*time.Minute)))
}

func TestPublishExhaustionRejects(t *testing.T) {
	t.Parallel()

	dest := &fakeDestination{err: fmt.Errorf("api unavailable")}
	p, s, notifier := newTestPublisher(t, dest, 2)
	ctx := context.Background()

	item := seedScheduled(t, s, 4)

	rearmAt, err := p.Publish(ctx, item.Fingerprint)
	require.Error(t, err)
	require.NotNil(t, rearmAt)

	rearmAt, err = p.Publish(ctx, item.Fingerprint)
	var pubErr *domain.PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Nil(t, rearmAt)

	got, err := s.Get(ctx, item.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRejected, got.State)
	assert.Equal(t, domain.ReasonPublishFailed, got.RejectReason)
	assert.Nil(t, got.ScheduledAt)
	assert.Equal(t, 2, got.PublishAttempts)

	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "failed after 2 attempts")
}

func TestFormat(t *testing.T) {
	t.Parallel()

	item := domain.Item{
		RawText:    "raw body",
		StyledText: "  styled body  ",
		Source:     domain.SourceRef{Permalink: "https://t.me/c/1/7"},
	}
	assert.Equal(t, "styled body\n\nhttps://t.me/c/1/7", Format(item))

	item.StyledText = ""
	assert.Equal(t, "raw body\n\nhttps://t.me/c/1/7", Format(item))

	item.Source.Permalink = ""
	assert.Equal(t, "raw body", Format(item))
}

func TestDigestSummarizesWindow(t *testing.T) {
	t.Parallel()

	dest := &fakeDestination{}
	p, s, _ := newTestPublisher(t, dest, 3)
	ctx := context.Background()

	now := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)

	publishAt := func(messageID int64, at time.Time, text string) {
		item := domain.NewItem(domain.SourceMessage{
			Source: domain.SourceRef{ChannelID: 1, MessageID: messageID},
			Text:   text,
		}, at.Add(-time.Hour))
		item.State = domain.StatePublished
		item.PublishedAt = &at
		require.NoError(t, s.Create(ctx, item))
	}

	publishAt(1, now.Add(-2*time.Hour), "first post")
	publishAt(2, now.Add(-23*time.Hour), "second post")
	publishAt(3, now.Add(-48*time.Hour), "too old")

	require.NoError(t, p.Digest(ctx, now))

	require.Len(t, dest.texts, 1)
	assert.Contains(t, dest.texts[0], "Digest for 2024-01-03: 2 posts")
	assert.Contains(t, dest.texts[0], "- first post")
	assert.Contains(t, dest.texts[0], "- second post")
	assert.NotContains(t, dest.texts[0], "too old")
}

func TestDigestSkipsEmptyWindow(t *testing.T) {
	t.Parallel()

	dest := &fakeDestination{}
	p, _, _ := newTestPublisher(t, dest, 3)

	require.NoError(t, p.Digest(context.Background(), time.Now().UTC()))
	assert.Empty(t, dest.refs)
}

func TestHeadline(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "first line", headline("first line\nsecond line"))

	long := strings.Repeat("x", 100)
	got := headline(long)
	assert.Equal(t, 81, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}
