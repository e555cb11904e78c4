package schedule

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FeedCurator/internal/domain"
	"FeedCurator/internal/locks"
	"FeedCurator/internal/store"
)

type scriptedPublisher struct {
	published []string
	rearmAt   *time.Time
	err       error
}

func (p *scriptedPublisher) Publish(ctx context.Context, fingerprint string) (*time.Time, error) {
	p.published = append(p.published, fingerprint)
	return p.rearmAt, p.err
}

func newTestScheduler(t *testing.T, pub Publisher) (*Scheduler, *store.SQLiteStore) {
	t.Helper()

	s, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sched := New(Deps{
		Store:     s,
		Locks:     locks.NewKeyed(),
		Publisher: pub,
		Logger:    slog.Default(),
	})

	return sched, s
}

func seedScheduled(t *testing.T, s *store.SQLiteStore, messageID int64, fireAt time.Time) domain.Item {
	t.Helper()

	item := domain.NewItem(domain.SourceMessage{
		Source: domain.SourceRef{ChannelID: 1, MessageID: messageID},
		Text:   "scheduled text",
	}, fireAt.Add(-time.Hour))
	item.State = domain.StateScheduled
	item.ScheduledAt = &fireAt
	require.NoError(t, s.Create(context.Background(), item))
	return item
}

func TestTickFiresDueJobsInOrder(t *testing.T) {
	t.Parallel()

	pub := &scriptedPublisher{}
	sched, s := newTestScheduler(t, pub)
	ctx := context.Background()

	early := seedScheduled(t, s, 1, time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC))
	late := seedScheduled(t, s, 2, time.Date(2024, 1, 2, 8, 30, 0, 0, time.UTC))
	sched.Schedule(late.Fingerprint, *late.ScheduledAt)
	sched.Schedule(early.Fingerprint, *early.ScheduledAt)

	sched.Tick(ctx, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))

	assert.Equal(t, []string{early.Fingerprint, late.Fingerprint}, pub.published)
	assert.Empty(t, sched.jobs)

	// a repeated tick does not fire the same jobs again
	sched.Tick(ctx, time.Date(2024, 1, 2, 9, 1, 0, 0, time.UTC))
	assert.Len(t, pub.published, 2)
}

func TestTickSkipsFutureJobs(t *testing.T) {
	t.Parallel()

	pub := &scriptedPublisher{}
	sched, s := newTestScheduler(t, pub)
	ctx := context.Background()

	item := seedScheduled(t, s, 3, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC))
	sched.Schedule(item.Fingerprint, *item.ScheduledAt)

	sched.Tick(ctx, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))

	assert.Empty(t, pub.published)
	assert.Len(t, sched.jobs, 1)
}

func TestCancelPreventsFire(t *testing.T) {
	t.Parallel()

	pub := &scriptedPublisher{}
	sched, s := newTestScheduler(t, pub)
	ctx := context.Background()

	item := seedScheduled(t, s, 4, time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC))
	sched.Schedule(item.Fingerprint, *item.ScheduledAt)
	sched.Cancel(item.Fingerprint)

	sched.Tick(ctx, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))

	assert.Empty(t, pub.published)
}

func TestFireConflictRemovesJob(t *testing.T) {
	t.Parallel()

	pub := &scriptedPublisher{}
	sched, s := newTestScheduler(t, pub)
	ctx := context.Background()

	fireAt := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	item := seedScheduled(t, s, 5, fireAt)
	sched.Schedule(item.Fingerprint, fireAt)

	// moderator rejected between scheduling and the tick
	item.State = domain.StateRejected
	item.RejectReason = domain.ReasonModerator
	item.ScheduledAt = nil
	require.NoError(t, s.Update(ctx, item))

	sched.Tick(ctx, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))

	assert.Empty(t, pub.published)
	assert.Empty(t, sched.jobs)
}

func TestRearmSchedulesNextAttempt(t *testing.T) {
	t.Parallel()

	retryAt := time.Date(2024, 1, 2, 9, 5, 0, 0, time.UTC)
	pub := &scriptedPublisher{rearmAt: &retryAt, err: &domain.PublishError{}}
	sched, s := newTestScheduler(t, pub)
	ctx := context.Background()

	item := seedScheduled(t, s, 6, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	sched.Schedule(item.Fingerprint, *item.ScheduledAt)

	sched.Tick(ctx, time.Date(2024, 1, 2, 9, 1, 0, 0, time.UTC))
	require.Len(t, pub.published, 1)
	require.Len(t, sched.jobs, 1)
	assert.True(t, sched.jobs[item.Fingerprint].fireAt.Equal(retryAt))

	// the retry succeeds
	pub.rearmAt = nil
	pub.err = nil
	sched.Tick(ctx, time.Date(2024, 1, 2, 9, 6, 0, 0, time.UTC))
	assert.Len(t, pub.published, 2)
	assert.Empty(t, sched.jobs)
}

func TestRestoreRebuildsJobs(t *testing.T) {
	t.Parallel()

	pub := &scriptedPublisher{}
	sched, s := newTestScheduler(t, pub)
	ctx := context.Background()

	a := seedScheduled(t, s, 7, time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC))
	b := seedScheduled(t, s, 8, time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC))

	require.NoError(t, sched.Restore(ctx))
	require.Len(t, sched.jobs, 2)

	// the overdue job fires on the first tick, the future one waits
	sched.Tick(ctx, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, []string{a.Fingerprint}, pub.published)
	assert.Contains(t, sched.jobs, b.Fingerprint)
}

func TestScheduleReplacesPendingJob(t *testing.T) {
	t.Parallel()

	pub := &scriptedPublisher{}
	sched, s := newTestScheduler(t, pub)
	ctx := context.Background()

	item := seedScheduled(t, s, 9, time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC))
	sched.Schedule(item.Fingerprint, time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC))
	sched.Schedule(item.Fingerprint, time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC))

	require.Len(t, sched.jobs, 1)
	sched.Tick(ctx, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	assert.Empty(t, pub.published)
}

func TestDigestFiresAndRearms(t *testing.T) {
	t.Parallel()

	pub := &scriptedPublisher{}
	var digestRuns []time.Time

	s, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sched := New(Deps{
		Store:     s,
		Locks:     locks.NewKeyed(),
		Publisher: pub,
		Digest: func(ctx context.Context, now time.Time) error {
			digestRuns = append(digestRuns, now)
			return nil
		},
		DigestTime: "09:00",
		Location:   time.UTC,
		Logger:     slog.Default(),
	})
	ctx := context.Background()

	sched.digestNext = time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

	sched.Tick(ctx, time.Date(2024, 1, 2, 8, 59, 0, 0, time.UTC))
	assert.Empty(t, digestRuns)

	sched.Tick(ctx, time.Date(2024, 1, 2, 9, 0, 30, 0, time.UTC))
	require.Len(t, digestRuns, 1)
	assert.True(t, sched.digestNext.Equal(time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)))

	// the same tick repeated does not double-fire
	sched.Tick(ctx, time.Date(2024, 1, 2, 9, 1, 0, 0, time.UTC))
	assert.Len(t, digestRuns, 1)
}

func TestNextDigestConvertsLocalWallTime(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	s := &Scheduler{digestTime: "09:00", loc: loc, logger: slog.Default()}

	// Berlin is UTC+1 in January, so 09:00 local is 08:00 UTC
	next := s.nextDigest(time.Date(2024, 1, 2, 6, 0, 0, 0, time.UTC))
	assert.True(t, next.Equal(time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)))

	// past today's slot, the next occurrence is tomorrow
	next = s.nextDigest(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	assert.True(t, next.Equal(time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)))
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	hour, minute, err := parseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 9, hour)
	assert.Equal(t, 30, minute)

	for _, bad := range []string{"", "9", "25:00", "09:61", "ab:cd"} {
		_, _, err := parseClock(bad)
		assert.Error(t, err, bad)
	}
}
