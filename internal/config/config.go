// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults; Load layers file/env on top.
// - External errors are wrapped via this package's sentinel kinds.
package config

// Config contains process configuration for the fanout dispatcher.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9090".
	Addr string `koanf:"addr"`

	// MaxPendingKeys bounds distinct topics per deferred-tier store.
	MaxPendingKeys int `koanf:"max_pending_keys"`

	// MaxAccumulated bounds deltas retained per topic.
	MaxAccumulated int `koanf:"max_accumulated"`

	// PassiveFlushMS and ObserverFlushMS set the deferred flush cadences.
	PassiveFlushMS  int `koanf:"passive_flush_ms"`
	ObserverFlushMS int `koanf:"observer_flush_ms"`

	// ActiveWindowMS and PassiveWindowMS set the recency windows used by
	// tier classification.
	ActiveWindowMS  int `koanf:"active_window_ms"`
	PassiveWindowMS int `koanf:"passive_window_ms"`

	// LedgerPruneMS sets the activity-ledger sweep interval; 0 disables.
	LedgerPruneMS int `koanf:"ledger_prune_ms"`

	// IngestRPS and IngestBurst configure the POST /deltas rate limiter.
	IngestRPS   int `koanf:"ingest_rps"`
	IngestBurst int `koanf:"ingest_burst"`

	// SubscriberBuffer sets the per-connection update channel depth.
	SubscriberBuffer int `koanf:"subscriber_buffer"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		Addr:             ":9090",
		MaxPendingKeys:   500,
		MaxAccumulated:   50,
		PassiveFlushMS:   8_000,
		ObserverFlushMS:  45_000,
		ActiveWindowMS:   300_000,
		PassiveWindowMS:  1_800_000,
		LedgerPruneMS:    3_600_000,
		IngestRPS:        200,
		IngestBurst:      400,
		SubscriberBuffer: 64,
	}
}
