package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"FeedCurator/internal/domain"
	"FeedCurator/internal/locks"
	"FeedCurator/internal/metrics"
	"FeedCurator/internal/ports"
)

// Admitter moves an accepted item into the moderation queue.
type Admitter interface {
	Admit(ctx context.Context, fingerprint string) error
}

// Stage pulls fingerprints off a bounded queue, scores them against the
// engine, and applies the relevance threshold. Failures are isolated per
// item and retried with exponential backoff up to MaxAttempts.
type Stage struct {
	store       ports.ItemStore
	engine      ports.Engine
	locks       *locks.Keyed
	admit       Admitter
	queue       chan string
	threshold   int
	maxAttempts int
	backoff     time.Duration
	workers     int
	logger      *slog.Logger
	now         func() time.Time
}

// Deps wires the stage's collaborators and tuning knobs.
type Deps struct {
	Store       ports.ItemStore
	Engine      ports.Engine
	Locks       *locks.Keyed
	Admit       Admitter
	Threshold   int
	MaxAttempts int
	Backoff     time.Duration
	Workers     int
	QueueDepth  int
	Logger      *slog.Logger
}

// New constructs the scoring stage.
func New(deps Deps) *Stage {
	workers := deps.Workers
	if workers <= 0 {
		workers = 1
	}
	depth := deps.QueueDepth
	if depth <= 0 {
		depth = 256
	}
	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := deps.Backoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}

	return &Stage{
		store:       deps.Store,
		engine:      deps.Engine,
		locks:       deps.Locks,
		admit:       deps.Admit,
		queue:       make(chan string, depth),
		threshold:   deps.Threshold,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		workers:     workers,
		logger:      deps.Logger,
		now:         time.Now,
	}
}

// Enqueue submits a fingerprint for scoring. The buffered queue provides
// backpressure: a full queue blocks the caller instead of spawning work.
func (s *Stage) Enqueue(fingerprint string) {
	s.queue <- fingerprint
}

// Run starts the worker pool and blocks until the context ends.
func (s *Stage) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case fingerprint := <-s.queue:
					s.process(ctx, fingerprint)
				}
			}
		})
	}
	return g.Wait()
}

func (s *Stage) process(ctx context.Context, fingerprint string) {
	item, err := s.store.Get(ctx, fingerprint)
	if err != nil {
		s.logger.Error("load item for scoring failed", "fingerprint", fingerprint, "error", err)
		return
	}
	if item.State != domain.StateNew && item.State != domain.StateScoringFailed {
		s.logger.Debug("skip scoring, wrong state", "fingerprint", fingerprint, "state", item.State)
		return
	}

	for attempt := item.ScoreAttempts + 1; ; attempt++ {
		review, err := s.engine.Analyze(ctx, item.RawText, item.Media)
		if err == nil {
			if s.finish(ctx, fingerprint, review) {
				if err := s.admit.Admit(ctx, fingerprint); err != nil {
					s.logger.Error("admit to moderation failed", "fingerprint", fingerprint, "error", err)
				}
			}
			return
		}

		metrics.EngineFailures.Inc()
		s.logger.Warn("engine call failed", "fingerprint", fingerprint, "attempt", attempt, "error", err)

		exhausted := attempt >= s.maxAttempts
		if recErr := s.recordFailure(ctx, fingerprint, attempt, exhausted, err); recErr != nil {
			s.logger.Error("record scoring failure", "fingerprint", fingerprint, "error", recErr)
			return
		}
		if exhausted {
			metrics.Scored.WithLabelValues("engine_error").Inc()
			return
		}

		if err := sleepCtx(ctx, s.backoff<<(attempt-1)); err != nil {
			return
		}
	}
}

// finish applies the threshold gate under the item lock and reports whether
// the item was accepted and should enter moderation.
func (s *Stage) finish(ctx context.Context, fingerprint string, review domain.Review) bool {
	unlock := s.locks.Lock(fingerprint)
	defer unlock()

	item, err := s.store.Get(ctx, fingerprint)
	if err != nil {
		s.logger.Error("reload item failed", "fingerprint", fingerprint, "error", err)
		return false
	}
	if item.State != domain.StateNew && item.State != domain.StateScoringFailed {
		return false
	}

	from := item.State
	item.Score = review.Relevance

	if review.Relevance >= s.threshold {
		item.State = domain.StateAccepted
		item.StyledText = review.StyledText
		if err := s.transition(ctx, item, from, "scored above threshold"); err != nil {
			s.logger.Error("accept item failed", "fingerprint", fingerprint, "error", err)
			return false
		}
		metrics.Scored.WithLabelValues("accepted").Inc()
		s.logger.Info("item accepted", "fingerprint", fingerprint, "score", review.Relevance)
		return true
	}

	item.State = domain.StateRejected
	item.RejectReason = domain.ReasonLowRelevance
	if err := s.transition(ctx, item, from, fmt.Sprintf("score %d below threshold %d", review.Relevance, s.threshold)); err != nil {
		s.logger.Error("reject item failed", "fingerprint", fingerprint, "error", err)
		return false
	}
	metrics.Scored.WithLabelValues("low_relevance").Inc()
	s.logger.Info("item rejected", "fingerprint", fingerprint, "score", review.Relevance)
	return false
}

func (s *Stage) recordFailure(ctx context.Context, fingerprint string, attempt int, exhausted bool, cause error) error {
	unlock := s.locks.Lock(fingerprint)
	defer unlock()

	item, err := s.store.Get(ctx, fingerprint)
	if err != nil {
		return fmt.Errorf("reload item: %w", err)
	}

	from := item.State
	item.ScoreAttempts = attempt
	item.State = domain.StateScoringFailed

	// every failed attempt leaves its own audit entry
	if err := s.transition(ctx, item, from, fmt.Sprintf("engine failure %d/%d: %v", attempt, s.maxAttempts, cause)); err != nil {
		return err
	}
	if !exhausted {
		return nil
	}

	item.State = domain.StateRejected
	item.RejectReason = domain.ReasonEngineError
	return s.transition(ctx, item, domain.StateScoringFailed, "engine retries exhausted")
}

func (s *Stage) transition(ctx context.Context, item domain.Item, from domain.State, note string) error {
	if !domain.ValidTransition(from, item.State) {
		return fmt.Errorf("transition %s -> %s not permitted", from, item.State)
	}
	if err := s.store.Update(ctx, item); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if err := s.store.AppendAudit(ctx, domain.AuditEntry{
		Fingerprint: item.Fingerprint,
		FromState:   from,
		ToState:     item.State,
		Actor:       "scoring",
		Note:        note,
		CreatedAt:   s.now().UTC(),
	}); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
