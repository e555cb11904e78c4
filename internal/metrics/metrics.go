package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ItemsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedcurator_items_ingested_total",
		Help: "Items created from source feeds.",
	})

	Duplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedcurator_duplicates_total",
		Help: "Source messages dropped as already ingested.",
	})

	Scored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedcurator_scored_total",
		Help: "Scoring outcomes by result.",
	}, []string{"outcome"})

	EngineFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedcurator_engine_failures_total",
		Help: "Transient engine call failures.",
	})

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedcurator_moderation_decisions_total",
		Help: "Moderator decisions by kind.",
	}, []string{"decision"})

	Published = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedcurator_published_total",
		Help: "Items delivered to the destination feed.",
	})

	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedcurator_publish_failures_total",
		Help: "Transient destination delivery failures.",
	})
)
