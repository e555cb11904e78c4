package ingest

import (
	"fmt"

	"FeedCurator/internal/config"
	"FeedCurator/internal/ports"
)

// Builder constructs a source feed from its configuration block.
type Builder func(cfg config.SourceConfig) (ports.SourceFeed, error)

// Registry keeps a mapping from source kinds to their builders.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: map[string]Builder{}}
}

// Register adds or replaces a builder for a source kind.
func (r *Registry) Register(kind string, builder Builder) {
	if r.builders == nil {
		r.builders = map[string]Builder{}
	}
	r.builders[kind] = builder
}

// Build resolves the kind and constructs the configured source.
func (r *Registry) Build(cfg config.SourceConfig) (ports.SourceFeed, error) {
	builder, ok := r.builders[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("source kind %q is not registered", cfg.Kind)
	}
	return builder(cfg)
}
