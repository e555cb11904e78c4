package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"FeedCurator/internal/domain"
	"FeedCurator/internal/locks"
	"FeedCurator/internal/ports"
)

// Publisher delivers one scheduled item. A non-nil rearmAt asks the
// scheduler to arm another attempt at that instant.
type Publisher interface {
	Publish(ctx context.Context, fingerprint string) (rearmAt *time.Time, err error)
}

// DigestFunc runs the recurring daily digest.
type DigestFunc func(ctx context.Context, now time.Time) error

type job struct {
	fingerprint string
	fireAt      time.Time
	fired       bool
}

// Scheduler keeps the pending publication jobs plus the standing digest
// job and fires whatever is due on each tick. All comparisons happen in
// UTC; the digest's local wall time is converted when the next fire is
// armed. Missed ticks catch up on the next one, preserving at-least-once.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*job

	store     ports.ItemStore
	locks     *locks.Keyed
	publisher Publisher

	digest     DigestFunc
	digestTime string
	loc        *time.Location
	digestNext time.Time

	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Deps wires the scheduler's collaborators.
type Deps struct {
	Store      ports.ItemStore
	Locks      *locks.Keyed
	Publisher  Publisher
	Digest     DigestFunc
	DigestTime string // "HH:MM" in Location
	Location   *time.Location
	Interval   time.Duration
	Logger     *slog.Logger
}

// New constructs the scheduler; the digest job is armed immediately.
func New(deps Deps) *Scheduler {
	interval := deps.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}

	s := &Scheduler{
		jobs:       make(map[string]*job),
		store:      deps.Store,
		locks:      deps.Locks,
		publisher:  deps.Publisher,
		digest:     deps.Digest,
		digestTime: deps.DigestTime,
		loc:        loc,
		interval:   interval,
		logger:     deps.Logger,
		now:        time.Now,
	}

	if s.digest != nil && s.digestTime != "" {
		s.digestNext = s.nextDigest(s.now())
	}

	return s
}

// Schedule arms (or replaces) the pending job for an item. At most one
// pending job exists per fingerprint.
func (s *Scheduler) Schedule(fingerprint string, fireAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[fingerprint] = &job{fingerprint: fingerprint, fireAt: fireAt.UTC()}
}

// Cancel removes the pending job for an item, if any.
func (s *Scheduler) Cancel(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, fingerprint)
}

// Restore rebuilds pending jobs from the store's Scheduled items. Jobs
// whose fire time passed while the process was down fire on the next tick.
func (s *Scheduler) Restore(ctx context.Context) error {
	items, err := s.store.ByState(ctx, domain.StateScheduled)
	if err != nil {
		return fmt.Errorf("load scheduled items: %w", err)
	}

	for _, item := range items {
		if item.ScheduledAt == nil {
			s.logger.Warn("scheduled item without fire time", "fingerprint", item.Fingerprint)
			continue
		}
		s.Schedule(item.Fingerprint, *item.ScheduledAt)
	}

	s.logger.Info("scheduler restored", "jobs", len(items))
	return nil
}

// Run ticks on a fixed interval until the context ends.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			s.Tick(ctx, t)
		}
	}
}

// Tick fires every due job in nondecreasing fire-time order, then the
// digest if its time has come.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	now = now.UTC()

	s.mu.Lock()
	due := make([]*job, 0)
	for _, j := range s.jobs {
		if !j.fired && !j.fireAt.After(now) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, k int) bool { return due[i].fireAt.Before(due[k].fireAt) })

	for _, j := range due {
		s.fire(ctx, j)
	}

	if s.digest != nil && !s.digestNext.IsZero() && !s.digestNext.After(now) {
		// re-arm first so a slow digest cannot double-fire on the next tick
		s.digestNext = s.nextDigest(now)
		if err := s.digest(ctx, now); err != nil {
			s.logger.Error("digest job failed", "error", err)
		}
	}
}

// fire delivers one due job. The per-item lock makes the fired flag check
// and the publish atomic with respect to moderator decisions: whichever
// side wins the lock decides, the loser observes the new state and no-ops.
func (s *Scheduler) fire(ctx context.Context, j *job) {
	unlock := s.locks.Lock(j.fingerprint)
	defer unlock()

	s.mu.Lock()
	current, ok := s.jobs[j.fingerprint]
	if !ok || current != j || current.fired {
		// cancelled or replaced while we waited for the item lock
		s.mu.Unlock()
		return
	}
	current.fired = true
	s.mu.Unlock()

	item, err := s.store.Get(ctx, j.fingerprint)
	if err != nil {
		s.logger.Error("load item for publish failed", "fingerprint", j.fingerprint, "error", err)
		s.removeJob(j.fingerprint)
		return
	}
	if item.State != domain.StateScheduled {
		s.logger.Warn("fire conflict, item no longer scheduled", "fingerprint", j.fingerprint, "state", item.State)
		s.removeJob(j.fingerprint)
		return
	}

	rearmAt, err := s.publisher.Publish(ctx, j.fingerprint)
	if err != nil {
		s.logger.Warn("publish attempt failed", "fingerprint", j.fingerprint, "error", err)
	}

	s.mu.Lock()
	if rearmAt != nil {
		s.jobs[j.fingerprint] = &job{fingerprint: j.fingerprint, fireAt: rearmAt.UTC()}
	} else {
		delete(s.jobs, j.fingerprint)
	}
	s.mu.Unlock()
}

func (s *Scheduler) removeJob(fingerprint string) {
	s.mu.Lock()
	delete(s.jobs, fingerprint)
	s.mu.Unlock()
}

// nextDigest returns the next occurrence of the configured local wall time
// strictly after the given instant, as UTC.
func (s *Scheduler) nextDigest(after time.Time) time.Time {
	hour, minute, err := parseClock(s.digestTime)
	if err != nil {
		s.logger.Error("invalid digest time", "value", s.digestTime, "error", err)
		return time.Time{}
	}

	local := after.In(s.loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, s.loc)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate.UTC()
}

func parseClock(value string) (int, int, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", value)
	}
	return hour, minute, nil
}
