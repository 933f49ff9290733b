package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if FANOUT_CONFIG is set
//  3. env (prefix FANOUT_)
func Load(ctx context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("FANOUT_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Env keys map FANOUT_MAX_PENDING_KEYS -> max_pending_keys; underscores
	// are preserved to match the koanf tags on the struct.
	envProvider := env.Provider("FANOUT_", ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), "fanout_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.MaxPendingKeys <= 0:
		return fmt.Errorf("%w: max_pending_keys must be positive", ErrInvalidConfig)
	case c.MaxAccumulated <= 0:
		return fmt.Errorf("%w: max_accumulated must be positive", ErrInvalidConfig)
	case c.PassiveFlushMS <= 0 || c.ObserverFlushMS <= 0:
		return fmt.Errorf("%w: flush intervals must be positive", ErrInvalidConfig)
	case c.ActiveWindowMS <= 0 || c.PassiveWindowMS <= c.ActiveWindowMS:
		return fmt.Errorf("%w: passive_window_ms must exceed active_window_ms", ErrInvalidConfig)
	}
	return nil
}
