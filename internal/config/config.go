// Package config provides configuration types, defaults and validation for deepfocus.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/deepfocus/internal/enforcement"
	"github.com/zjrosen/deepfocus/internal/enforcement/filebridge"
	"github.com/zjrosen/deepfocus/internal/focus/domain"
	"github.com/zjrosen/deepfocus/internal/log"
	"github.com/zjrosen/deepfocus/internal/quota"
	"github.com/zjrosen/deepfocus/internal/tracing"
)

// Enforcement drivers.
const (
	DriverFile = "file"
	DriverFake = "fake"
)

// Config holds all configuration options for deepfocus.
type Config struct {
	DataDir      string             `mapstructure:"data_dir"`
	DBPath       string             `mapstructure:"db_path"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Quota        QuotaConfig        `mapstructure:"quota"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Retention    RetentionConfig    `mapstructure:"retention"`
	Enforcement  EnforcementConfig  `mapstructure:"enforcement"`
	BlockList    BlockListConfig    `mapstructure:"blocklist"`
	Tracing      tracing.Config     `mapstructure:"tracing"`
	Flags        map[string]bool    `mapstructure:"flags"`
}

// EngineConfig holds state machine timing.
type EngineConfig struct {
	TickInterval       time.Duration   `mapstructure:"tick_interval"`
	EnforcementTimeout time.Duration   `mapstructure:"enforcement_timeout"`
	RetryBackoff       []time.Duration `mapstructure:"retry_backoff"`
}

// Policy converts the engine timing into an enforcement retry policy.
func (e EngineConfig) Policy() enforcement.Policy {
	return enforcement.Policy{Schedule: e.RetryBackoff, Timeout: e.EnforcementTimeout}
}

// QuotaConfig holds free tier settings.
type QuotaConfig struct {
	FreeSessions         int           `mapstructure:"free_sessions"`
	Identity             string        `mapstructure:"identity"`
	SubscriptionCacheTTL time.Duration `mapstructure:"subscription_cache_ttl"`
}

// SubscriptionConfig is the static subscription source.
type SubscriptionConfig struct {
	Subscribed bool `mapstructure:"subscribed"`
}

// RetentionConfig controls history pruning. Days of 0 keeps everything.
type RetentionConfig struct {
	Days int `mapstructure:"days"`
}

// Duration returns the retention window, or 0 when pruning is off.
func (r RetentionConfig) Duration() time.Duration {
	return time.Duration(r.Days) * 24 * time.Hour
}

// EnforcementConfig selects and configures the enforcement adapter.
type EnforcementConfig struct {
	Driver       string        `mapstructure:"driver"`
	PolicyPath   string        `mapstructure:"policy_path"`
	AttemptsPath string        `mapstructure:"attempts_path"`
	Debounce     time.Duration `mapstructure:"debounce"`
}

// BlockListConfig is the user's default set of apps to block.
type BlockListConfig struct {
	Apps []string `mapstructure:"apps"`
}

// DefaultDataDir returns ~/.deepfocus, or .deepfocus when the home directory
// cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deepfocus"
	}
	return filepath.Join(home, ".deepfocus")
}

// Defaults returns the default configuration.
func Defaults() Config {
	dataDir := DefaultDataDir()
	tr := tracing.DefaultConfig()
	tr.FilePath = filepath.Join(dataDir, "traces", "traces.jsonl")

	return Config{
		DataDir: dataDir,
		DBPath:  filepath.Join(dataDir, "deepfocus.db"),
		Engine: EngineConfig{
			TickInterval:       5 * time.Second,
			EnforcementTimeout: enforcement.DefaultTimeout,
			RetryBackoff:       append([]time.Duration(nil), enforcement.DefaultSchedule...),
		},
		Quota: QuotaConfig{
			FreeSessions:         domain.DefaultFreeSessions,
			Identity:             quota.DefaultIdentity,
			SubscriptionCacheTTL: time.Minute,
		},
		Enforcement: EnforcementConfig{
			Driver:       DriverFile,
			PolicyPath:   filepath.Join(dataDir, "enforcement", "policy.json"),
			AttemptsPath: filepath.Join(dataDir, "enforcement", "attempts.jsonl"),
			Debounce:     filebridge.DefaultDebounce,
		},
		Tracing: tr,
	}
}

// Validate checks the configuration for values the engine cannot run with.
func Validate(c Config) error {
	var errs []error

	if c.Engine.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("engine.tick_interval must be positive, got %s", c.Engine.TickInterval))
	}
	if c.Engine.EnforcementTimeout <= 0 {
		errs = append(errs, fmt.Errorf("engine.enforcement_timeout must be positive, got %s", c.Engine.EnforcementTimeout))
	}
	if len(c.Engine.RetryBackoff) == 0 {
		errs = append(errs, errors.New("engine.retry_backoff must list at least one wait"))
	}
	for i, d := range c.Engine.RetryBackoff {
		if d < 0 {
			errs = append(errs, fmt.Errorf("engine.retry_backoff[%d] must not be negative", i))
		}
	}
	if c.Quota.FreeSessions < 0 {
		errs = append(errs, fmt.Errorf("quota.free_sessions must not be negative, got %d", c.Quota.FreeSessions))
	}
	if c.Quota.SubscriptionCacheTTL < 0 {
		errs = append(errs, errors.New("quota.subscription_cache_ttl must not be negative"))
	}
	if c.Retention.Days < 0 {
		errs = append(errs, fmt.Errorf("retention.days must not be negative, got %d", c.Retention.Days))
	}

	switch c.Enforcement.Driver {
	case DriverFake:
	case DriverFile, "":
		if c.Enforcement.PolicyPath == "" {
			errs = append(errs, errors.New("enforcement.policy_path is required for the file driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("enforcement.driver %q is not one of file, fake", c.Enforcement.Driver))
	}

	if err := ValidateTracing(c.Tracing); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ValidateTracing checks tracing settings.
func ValidateTracing(t tracing.Config) error {
	switch t.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter %q is not one of none, file, stdout, otlp", t.Exporter)
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1], got %v", t.SampleRate)
	}
	return nil
}

// DefaultConfigTemplate returns the commented YAML written on first run.
func DefaultConfigTemplate() string {
	return `# deepfocus configuration

# Where the session database and enforcement files live.
# data_dir: ~/.deepfocus
# db_path: ~/.deepfocus/deepfocus.db

engine:
  tick_interval: 5s
  enforcement_timeout: 5s
  retry_backoff: [250ms, 500ms, 1s]

quota:
  free_sessions: 3
  identity: local
  subscription_cache_ttl: 1m

subscription:
  subscribed: false

retention:
  days: 0 # 0 keeps history forever

enforcement:
  driver: file # file | fake

blocklist:
  apps: []

tracing:
  enabled: false
  exporter: file # none | file | stdout | otlp
  sample_rate: 1.0

flags:
  persist-attempts: true
  prune-on-start: true
`
}

// WriteDefaultConfig writes DefaultConfigTemplate to configPath.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
