package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone  = "UTC"
	configPathEnv    = "FEED_CURATOR_CONFIG"
	databasePathEnv  = "FEED_CURATOR_DB"
	engineAPIKeyEnv  = "ENGINE_API_KEY"
	engineURLEnv     = "ENGINE_ENDPOINT"
	telegramTokenEnv = "TELEGRAM_BOT_TOKEN"
	destinationEnv   = "DESTINATION_CHAT_ID"
	moderatorEnv     = "MODERATOR_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Digest   DigestConfig   `yaml:"digest"`
	Engine   EngineConfig   `yaml:"engine"`
	Telegram TelegramConfig `yaml:"telegram"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Sources  []SourceConfig `yaml:"sources"`
}

// LoggingConfig controls slog verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig describes the sqlite file location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PipelineConfig tunes thresholds, retries, and worker pools.
type PipelineConfig struct {
	RelevanceThreshold    int `yaml:"relevanceThreshold"`
	PollIntervalSeconds   int `yaml:"pollIntervalSeconds"`
	ScoringWorkers        int `yaml:"scoringWorkers"`
	ScoringMaxAttempts    int `yaml:"scoringMaxAttempts"`
	ScoringBackoffSeconds int `yaml:"scoringBackoffSeconds"`
	PublishMaxAttempts    int `yaml:"publishMaxAttempts"`
	PublishBackoffSeconds int `yaml:"publishBackoffSeconds"`
	QueueDepth            int `yaml:"queueDepth"`
	DedupCacheSize        int `yaml:"dedupCacheSize"`
}

// DigestConfig defines the recurring daily summary job.
type DigestConfig struct {
	Time     string         `yaml:"time"` // "HH:MM" in Timezone
	Timezone string         `yaml:"timezone"`
	location *time.Location `yaml:"-"`
}

// Location resolves the digest timezone to a time.Location. Configs built
// by hand resolve the Timezone field lazily; unknown names fall back to UTC.
func (d DigestConfig) Location() *time.Location {
	if d.location != nil {
		return d.location
	}
	if d.Timezone != "" {
		if loc, err := time.LoadLocation(d.Timezone); err == nil {
			return loc
		}
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// EngineConfig defines how to contact the relevance and style service.
type EngineConfig struct {
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"apiKey"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// TelegramConfig wires all data required for the bot transports.
type TelegramConfig struct {
	BotToken          string `yaml:"botToken"`
	DestinationChatID string `yaml:"destinationChatId"`
	ModeratorChatID   string `yaml:"moderatorChatId"`
}

// MetricsConfig controls the prometheus listen address; empty disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// SourceConfig describes a single monitored feed.
type SourceConfig struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"` // "telegram" or "webfeed"
	URL       string `yaml:"url"`
	ChannelID int64  `yaml:"channelId"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	cfg.clampPipeline()

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Telegram.BotToken = v
	}

	if v := os.Getenv(destinationEnv); v != "" {
		c.Telegram.DestinationChatID = v
	}

	if v := os.Getenv(moderatorEnv); v != "" {
		c.Telegram.ModeratorChatID = v
	}

	if v := os.Getenv(engineAPIKeyEnv); v != "" {
		c.Engine.APIKey = v
	}

	if v := os.Getenv(engineURLEnv); v != "" {
		c.Engine.Endpoint = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Digest.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Digest.location = loc
}

func (c *Config) clampPipeline() {
	if c.Pipeline.RelevanceThreshold < 1 || c.Pipeline.RelevanceThreshold > 10 {
		log.Printf("config: relevance threshold %d outside [1,10], using default", c.Pipeline.RelevanceThreshold)
		c.Pipeline.RelevanceThreshold = defaultConfig().Pipeline.RelevanceThreshold
	}
	if c.Pipeline.ScoringWorkers <= 0 {
		c.Pipeline.ScoringWorkers = defaultConfig().Pipeline.ScoringWorkers
	}
	if c.Pipeline.QueueDepth <= 0 {
		c.Pipeline.QueueDepth = defaultConfig().Pipeline.QueueDepth
	}
	if c.Pipeline.DedupCacheSize <= 0 {
		c.Pipeline.DedupCacheSize = defaultConfig().Pipeline.DedupCacheSize
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}

	if override.Database.Path != "" {
		base.Database = override.Database
	}

	if override.Pipeline.RelevanceThreshold != 0 {
		base.Pipeline.RelevanceThreshold = override.Pipeline.RelevanceThreshold
	}
	if override.Pipeline.PollIntervalSeconds != 0 {
		base.Pipeline.PollIntervalSeconds = override.Pipeline.PollIntervalSeconds
	}
	if override.Pipeline.ScoringWorkers != 0 {
		base.Pipeline.ScoringWorkers = override.Pipeline.ScoringWorkers
	}
	if override.Pipeline.ScoringMaxAttempts != 0 {
		base.Pipeline.ScoringMaxAttempts = override.Pipeline.ScoringMaxAttempts
	}
	if override.Pipeline.ScoringBackoffSeconds != 0 {
		base.Pipeline.ScoringBackoffSeconds = override.Pipeline.ScoringBackoffSeconds
	}
	if override.Pipeline.PublishMaxAttempts != 0 {
		base.Pipeline.PublishMaxAttempts = override.Pipeline.PublishMaxAttempts
	}
	if override.Pipeline.PublishBackoffSeconds != 0 {
		base.Pipeline.PublishBackoffSeconds = override.Pipeline.PublishBackoffSeconds
	}
	if override.Pipeline.QueueDepth != 0 {
		base.Pipeline.QueueDepth = override.Pipeline.QueueDepth
	}
	if override.Pipeline.DedupCacheSize != 0 {
		base.Pipeline.DedupCacheSize = override.Pipeline.DedupCacheSize
	}

	if override.Digest.Time != "" {
		base.Digest.Time = override.Digest.Time
	}
	if override.Digest.Timezone != "" {
		base.Digest.Timezone = override.Digest.Timezone
	}

	if override.Engine.Endpoint != "" {
		base.Engine.Endpoint = override.Engine.Endpoint
	}
	if override.Engine.APIKey != "" {
		base.Engine.APIKey = override.Engine.APIKey
	}
	if override.Engine.TimeoutSeconds != 0 {
		base.Engine.TimeoutSeconds = override.Engine.TimeoutSeconds
	}

	if override.Telegram.BotToken != "" {
		base.Telegram.BotToken = override.Telegram.BotToken
	}
	if override.Telegram.DestinationChatID != "" {
		base.Telegram.DestinationChatID = override.Telegram.DestinationChatID
	}
	if override.Telegram.ModeratorChatID != "" {
		base.Telegram.ModeratorChatID = override.Telegram.ModeratorChatID
	}

	if override.Metrics.Addr != "" {
		base.Metrics = override.Metrics
	}

	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Database: DatabaseConfig{Path: "feedcurator.db"},
		Pipeline: PipelineConfig{
			RelevanceThreshold:    6,
			PollIntervalSeconds:   60,
			ScoringWorkers:        2,
			ScoringMaxAttempts:    3,
			ScoringBackoffSeconds: 5,
			PublishMaxAttempts:    3,
			PublishBackoffSeconds: 30,
			QueueDepth:            256,
			DedupCacheSize:        4096,
		},
		Digest: DigestConfig{Time: "09:00", Timezone: defaultTimezone, location: tz},
		Engine: EngineConfig{
			Endpoint:       "https://engine.example.org/v1/analyze",
			TimeoutSeconds: 20,
		},
		Metrics: MetricsConfig{Addr: ""},
	}
}
