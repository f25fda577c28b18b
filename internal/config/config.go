// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Load layers a YAML file and RALLY_* environment variables over defaults.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Store drivers understood by the service.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the persistence backend: memory, sqlite or mongo.
	StoreDriver string `koanf:"store_driver"`
	SQLitePath  string `koanf:"sqlite_path"`
	MongoURI    string `koanf:"mongo_uri"`
	MongoDB     string `koanf:"mongo_database"`

	// TriggerThreshold is the interest count at which an action item is created.
	TriggerThreshold int `koanf:"trigger_threshold"`

	// FormationQuorum is the number of confirmations that forms a group.
	FormationQuorum int `koanf:"formation_quorum"`

	// ExhaustionGraceSeconds delays dismissal once quorum became unreachable.
	ExhaustionGraceSeconds int `koanf:"exhaustion_grace_seconds"`

	// EpisodeTimeoutMinutes dismisses active episodes that never resolve. Zero disables.
	EpisodeTimeoutMinutes int `koanf:"episode_timeout_minutes"`

	// SweepIntervalSeconds is the period of the background sweeper.
	SweepIntervalSeconds int `koanf:"sweep_interval_seconds"`

	// Scorer normalization.
	PopularitySaturation int `koanf:"popularity_saturation"`
	FriendSaturation     int `koanf:"friend_saturation"`

	// MaxRecommendations caps GET /users/{id}/recommendations?limit.
	MaxRecommendations int `koanf:"max_recommendations"`

	// Notification fan-out.
	WorkerCount    int `koanf:"worker_count"`
	EventQueueSize int `koanf:"queue_size"`

	// DedupeSize bounds the idempotency-key cache.
	DedupeSize int `koanf:"dedupe_size"`

	// ChatWebhookURL switches group chat creation to an HTTP collaborator when set.
	ChatWebhookURL string `koanf:"chat_webhook_url"`
	ChatTimeoutMS  int    `koanf:"chat_timeout_ms"`

	// ChatLeaseSeconds is how long a chat creation in flight keeps the sweeper away.
	ChatLeaseSeconds int `koanf:"chat_lease_seconds"`

	// RateLimitPerMinute bounds per-IP mutation requests. Zero disables.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:               "info",
		Addr:                   ":9080",
		StoreDriver:            StoreMemory,
		SQLitePath:             "rally.db",
		MongoURI:               "mongodb://localhost:27017",
		MongoDB:                "rally",
		TriggerThreshold:       3,
		FormationQuorum:        3,
		ExhaustionGraceSeconds: 900,
		EpisodeTimeoutMinutes:  2880,
		SweepIntervalSeconds:   30,
		PopularitySaturation:   20,
		FriendSaturation:       3,
		MaxRecommendations:     50,
		WorkerCount:            runtime.NumCPU(),
		EventQueueSize:         10_000,
		DedupeSize:             100_000,
		ChatTimeoutMS:          3000,
		ChatLeaseSeconds:       60,
		RateLimitPerMinute:     600,
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.TriggerThreshold < 1:
		return fmt.Errorf("%w: trigger_threshold must be >= 1", ErrInvalidConfig)
	case c.FormationQuorum < 1:
		return fmt.Errorf("%w: formation_quorum must be >= 1", ErrInvalidConfig)
	case c.ExhaustionGraceSeconds < 0:
		return fmt.Errorf("%w: exhaustion_grace_seconds must be >= 0", ErrInvalidConfig)
	case c.EpisodeTimeoutMinutes < 0:
		return fmt.Errorf("%w: episode_timeout_minutes must be >= 0", ErrInvalidConfig)
	case c.SweepIntervalSeconds < 1:
		return fmt.Errorf("%w: sweep_interval_seconds must be >= 1", ErrInvalidConfig)
	case c.PopularitySaturation < 1 || c.FriendSaturation < 1:
		return fmt.Errorf("%w: saturation values must be >= 1", ErrInvalidConfig)
	case c.ChatLeaseSeconds < 1:
		return fmt.Errorf("%w: chat_lease_seconds must be >= 1", ErrInvalidConfig)
	case c.WorkerCount < 1 || c.EventQueueSize < 1:
		return fmt.Errorf("%w: worker_count and queue_size must be >= 1", ErrInvalidConfig)
	}
	switch c.StoreDriver {
	case StoreMemory, StoreSQLite, StoreMongo:
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}
	return nil
}

// ExhaustionGrace returns the grace period as a duration.
func (c *Config) ExhaustionGrace() time.Duration {
	return time.Duration(c.ExhaustionGraceSeconds) * time.Second
}

// EpisodeTimeout returns the episode timeout as a duration.
func (c *Config) EpisodeTimeout() time.Duration {
	return time.Duration(c.EpisodeTimeoutMinutes) * time.Minute
}

// SweepInterval returns the sweeper period as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// ChatLease returns the chat creation lease as a duration.
func (c *Config) ChatLease() time.Duration {
	return time.Duration(c.ChatLeaseSeconds) * time.Second
}

// ChatTimeout returns the chat collaborator timeout as a duration.
func (c *Config) ChatTimeout() time.Duration {
	return time.Duration(c.ChatTimeoutMS) * time.Millisecond
}
