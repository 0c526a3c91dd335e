package rebalance

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// RebalanceMode controls whether and how a caller blocks on the initial
// rebalance future.
type RebalanceMode int

const (
	// RebalanceModeSync means the caller blocks until the initial
	// RebalanceFuture resolves before considering the cache usable.
	RebalanceModeSync RebalanceMode = iota

	// RebalanceModeAsync means the caller starts serving reads/writes
	// immediately; rebalancing proceeds in the background.
	RebalanceModeAsync

	// RebalanceModeNone disables the demander entirely: AddAssignments
	// and ForcePreload return ErrDemanderDisabled.
	RebalanceModeNone
)

// String returns the human-readable mode name.
func (m RebalanceMode) String() string {
	switch m {
	case RebalanceModeSync:
		return "sync"
	case RebalanceModeAsync:
		return "async"
	case RebalanceModeNone:
		return "none"
	default:
		return "unknown"
	}
}

// UnmarshalYAML parses a mode name as produced by String ("sync",
// "async" or "none").
func (m *RebalanceMode) UnmarshalYAML(value *yaml.Node) error {
	switch value.Value {
	case "sync":
		*m = RebalanceModeSync
	case "async":
		*m = RebalanceModeAsync
	case "none":
		*m = RebalanceModeNone
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, value.Value)
	}

	return nil
}

// Config is the immutable configuration surface for a Demander, matching
// the four options enumerated in the specification's configuration table.
type Config struct {
	// Mode selects whether callers block on the initial future.
	Mode RebalanceMode `yaml:"mode"`

	// Delay defers a new (non-forced) assignment by this duration before
	// issuing demand messages. Zero means immediate.
	Delay time.Duration `yaml:"delay"`

	// Timeout is the per-demand-message timeout and grace period.
	Timeout time.Duration `yaml:"timeout"`

	// ThreadPoolSize is the number of parallel lanes per supplier.
	ThreadPoolSize uint16 `yaml:"threadPoolSize"`
}

// SetDefaults fills unset fields in cfg with sensible defaults, following
// the same in-place-mutation convention as the top-level Config.
func SetDefaults(cfg *Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	if cfg.ThreadPoolSize == 0 {
		cfg.ThreadPoolSize = 2
	}
}

// LoadConfig parses YAML-encoded configuration, applies SetDefaults to
// any unset field, and validates the result before returning it.
func LoadConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse rebalance config: %w", err)
	}

	SetDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks cfg for internal consistency.
func (c Config) Validate() error {
	if c.Mode < RebalanceModeSync || c.Mode > RebalanceModeNone {
		return fmt.Errorf("%w: unknown mode %d", ErrInvalidConfig, c.Mode)
	}

	if c.ThreadPoolSize == 0 {
		return fmt.Errorf("%w: threadPoolSize must be >= 1", ErrInvalidConfig)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}

	if c.Delay < 0 {
		return fmt.Errorf("%w: delay must not be negative", ErrInvalidConfig)
	}

	return nil
}
