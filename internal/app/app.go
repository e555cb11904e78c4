package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"FeedCurator/internal/config"
	"FeedCurator/internal/dedup"
	"FeedCurator/internal/domain"
	"FeedCurator/internal/infrastructure/engine"
	"FeedCurator/internal/infrastructure/telegram"
	"FeedCurator/internal/infrastructure/webfeed"
	"FeedCurator/internal/ingest"
	"FeedCurator/internal/locks"
	"FeedCurator/internal/logging"
	"FeedCurator/internal/moderation"
	"FeedCurator/internal/ports"
	"FeedCurator/internal/publish"
	"FeedCurator/internal/schedule"
	"FeedCurator/internal/scoring"
	"FeedCurator/internal/store"
)

// Application wires configuration to the pipeline components and owns
// their lifecycle.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *store.SQLiteStore
	monitor   *ingest.Monitor
	stage     *scoring.Stage
	queue     *moderation.Queue
	scheduler *schedule.Scheduler
}

// New builds a runnable application instance.
func New(cfg config.Config, logger *slog.Logger) (*Application, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	index, err := dedup.New(cfg.Pipeline.DedupCacheSize, st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build dedup index: %w", err)
	}

	keyed := locks.NewKeyed()
	eng := engine.NewClient(cfg.Engine)
	sink := telegram.NewSink(cfg.Telegram.BotToken, cfg.Telegram.DestinationChatID)

	var notifier ports.Notifier
	if cfg.Telegram.ModeratorChatID != "" {
		notifier = telegram.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ModeratorChatID)
	}

	publisher := publish.New(publish.Deps{
		Store:       st,
		Destination: sink,
		Notifier:    notifier,
		MaxAttempts: cfg.Pipeline.PublishMaxAttempts,
		Backoff:     time.Duration(cfg.Pipeline.PublishBackoffSeconds) * time.Second,
		Logger:      logging.Component(logger, "publisher"),
	})

	scheduler := schedule.New(schedule.Deps{
		Store:      st,
		Locks:      keyed,
		Publisher:  publisher,
		Digest:     publisher.Digest,
		DigestTime: cfg.Digest.Time,
		Location:   cfg.Digest.Location(),
		Interval:   time.Minute,
		Logger:     logging.Component(logger, "scheduler"),
	})

	queue := moderation.New(st, scheduler, keyed, logging.Component(logger, "moderation"))

	stage := scoring.New(scoring.Deps{
		Store:       st,
		Engine:      eng,
		Locks:       keyed,
		Admit:       queue,
		Threshold:   cfg.Pipeline.RelevanceThreshold,
		MaxAttempts: cfg.Pipeline.ScoringMaxAttempts,
		Backoff:     time.Duration(cfg.Pipeline.ScoringBackoffSeconds) * time.Second,
		Workers:     cfg.Pipeline.ScoringWorkers,
		QueueDepth:  cfg.Pipeline.QueueDepth,
		Logger:      logging.Component(logger, "scoring"),
	})

	registry := ingest.NewRegistry()
	registry.Register("webfeed", func(sc config.SourceConfig) (ports.SourceFeed, error) {
		return webfeed.NewScanner(sc.Name, sc.URL, sc.ChannelID, nil, logging.Component(logger, "webfeed")), nil
	})

	// telegram sources share one poller: getUpdates offsets are global per
	// bot token, so competing consumers would discard each other's updates
	sources := make([]ports.SourceFeed, 0, len(cfg.Sources))
	var channelIDs []int64
	for _, sc := range cfg.Sources {
		if sc.Kind == "telegram" {
			channelIDs = append(channelIDs, sc.ChannelID)
			continue
		}
		source, err := registry.Build(sc)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		sources = append(sources, source)
	}
	if len(channelIDs) > 0 {
		sources = append(sources, telegram.NewSource("telegram", cfg.Telegram.BotToken, channelIDs...))
	}

	monitor := ingest.NewMonitor(ingest.Deps{
		Sources:  sources,
		Index:    index,
		Store:    st,
		Scorer:   stage,
		Interval: time.Duration(cfg.Pipeline.PollIntervalSeconds) * time.Second,
		Logger:   logging.Component(logger, "ingest"),
	})

	return &Application{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		monitor:   monitor,
		stage:     stage,
		queue:     queue,
		scheduler: scheduler,
	}, nil
}

// Moderation exposes the decision operations to the presentation layer.
func (a *Application) Moderation() *moderation.Queue {
	return a.queue
}

// Run starts every pipeline task and blocks until the context ends.
func (a *Application) Run(ctx context.Context) error {
	defer a.store.Close()

	if err := a.scheduler.Restore(ctx); err != nil {
		return fmt.Errorf("restore scheduler: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.monitor.Run(ctx) })
	g.Go(func() error { return a.stage.Run(ctx) })
	g.Go(func() error { return a.scheduler.Run(ctx) })
	g.Go(func() error { return a.requeueUnscored(ctx) })

	if addr := a.cfg.Metrics.Addr; addr != "" {
		g.Go(func() error { return a.serveMetrics(ctx, addr) })
	}

	return g.Wait()
}

// requeueUnscored resubmits items a previous run left before the scoring
// gate so nothing is dropped across restarts.
func (a *Application) requeueUnscored(ctx context.Context) error {
	for _, state := range []domain.State{domain.StateNew, domain.StateScoringFailed} {
		items, err := a.store.ByState(ctx, state)
		if err != nil {
			return fmt.Errorf("load %s items: %w", state, err)
		}
		for _, item := range items {
			a.stage.Enqueue(item.Fingerprint)
		}
		if len(items) > 0 {
			a.logger.Info("requeued items for scoring", "state", state, "count", len(items))
		}
	}
	return nil
}

func (a *Application) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	a.logger.Info("metrics listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
