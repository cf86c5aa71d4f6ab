package objperm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Config holds engine settings. Build it with [DefaultConfig] or
// [LoadConfigFromEnv] and adjust before passing it to [Builder.WithConfig];
// the engine keeps its own copy.
type Config struct {
	Store      StoreConfig      `envconfig:"STORE"`
	Notify     NotifyConfig     `envconfig:"NOTIFY"`
	Audit      AuditConfig      `envconfig:"AUDIT"`
	Metrics    MetricsConfig    `envconfig:"METRICS"`
	Permission PermissionConfig `envconfig:"PERMISSION"`
	Log        LogConfig        `envconfig:"LOG"`
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig controls how the engine talks to its record store.
type StoreConfig struct {
	// RedisPrefix namespaces keys when the engine builds a Redis store itself.
	RedisPrefix string `envconfig:"REDIS_PREFIX" validate:"required,max=64"`
	// PruneZeroRecords deletes a record once a revoke leaves its mask at 0.
	PruneZeroRecords bool `envconfig:"PRUNE_ZERO_RECORDS"`
	// Timeout bounds each store call. Zero means the caller's context only.
	Timeout time.Duration `envconfig:"TIMEOUT" validate:"gte=0"`
}

/*
====================================
NOTIFY CONFIG
====================================
*/

// NotifyConfig controls change notification delivery.
type NotifyConfig struct {
	// PropagateListenerErrors makes Grant and Revoke return listener errors
	// wrapped in ErrListenerFailed. The mutation is persisted either way.
	PropagateListenerErrors bool `envconfig:"PROPAGATE_LISTENER_ERRORS"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool `envconfig:"ENABLED"`
	BufferSize int  `envconfig:"BUFFER_SIZE" validate:"gte=0,lte=1048576"`
	DropIfFull bool `envconfig:"DROP_IF_FULL"`
	// RecordDenials also emits an event for every check that is denied.
	RecordDenials bool `envconfig:"RECORD_DENIALS"`
}

/*
====================================
METRICS CONFIG
====================================
*/

type MetricsConfig struct {
	Enabled                 bool `envconfig:"ENABLED"`
	EnableLatencyHistograms bool `envconfig:"LATENCY_HISTOGRAMS"`
}

/*
====================================
PERMISSION CONFIG
====================================
*/

type PermissionConfig struct {
	// FreezeAfterBuild rejects Register and Unregister once Build returns.
	FreezeAfterBuild bool `envconfig:"FREEZE_AFTER_BUILD"`
}

/*
====================================
LOG CONFIG
====================================
*/

type LogConfig struct {
	Level  string `envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `envconfig:"FORMAT" validate:"oneof=text json"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the settings used when none are supplied.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			RedisPrefix: "op",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfigFromEnv overlays environment variables onto [DefaultConfig].
// With prefix "OBJPERM" the audit switch is read from OBJPERM_AUDIT_ENABLED,
// the Redis prefix from OBJPERM_STORE_REDIS_PREFIX, and so on. Unset
// variables keep their default.
func LoadConfigFromEnv(prefix string) (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

var configValidator = validator.New()

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}

	if err := configValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Audit.Enabled && c.Audit.BufferSize == 0 {
		return fmt.Errorf("%w: Audit BufferSize must be > 0 when Audit is enabled", ErrInvalidConfig)
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return fmt.Errorf("%w: latency histograms require Metrics.Enabled", ErrInvalidConfig)
	}

	return nil
}
