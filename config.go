package hitl

import (
	"context"
	"fmt"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/hitl/internal/envexpr"
	"github.com/viant/hitl/model"
	"github.com/viant/hitl/policy"
	"github.com/viant/hitl/service/checkpoint"
	"github.com/viant/hitl/service/recovery"
	"github.com/viant/hitl/service/session"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverFS     = "fs"
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// Config is a serialisable representation of the service configuration.
// The zero value of every section falls back to package defaults.
type Config struct {
	Default  ModuleConfig             `json:"default" yaml:"default"`
	Modules  map[string]*ModuleConfig `json:"modules,omitempty" yaml:"modules,omitempty"`
	Storage  StorageConfig            `json:"storage" yaml:"storage"`
	Audit    StorageConfig            `json:"audit" yaml:"audit"`
	Recovery RecoveryConfig           `json:"recovery" yaml:"recovery"`
	Tracing  TracingConfig            `json:"tracing" yaml:"tracing"`
	Metrics  MetricsConfig            `json:"metrics" yaml:"metrics"`
	// SweepIntervalMs runs the expiry sweeper; zero disables it.
	SweepIntervalMs int `json:"sweepIntervalMs,omitempty" yaml:"sweepIntervalMs,omitempty"`
}

// ModuleConfig is the governance configuration of one module. Unset
// fields inherit Config.Default.
type ModuleConfig struct {
	AutoRecoveryEnabled     *bool          `json:"autoRecoveryEnabled,omitempty" yaml:"autoRecoveryEnabled,omitempty"`
	MaxAutoRecoveryAttempts int            `json:"maxAutoRecoveryAttempts,omitempty" yaml:"maxAutoRecoveryAttempts,omitempty"`
	RecoveryTimeoutMs       int            `json:"recoveryTimeoutMs,omitempty" yaml:"recoveryTimeoutMs,omitempty"`
	EscalationThresholds    map[string]int `json:"escalationThresholds,omitempty" yaml:"escalationThresholds,omitempty"`
	CheckpointThresholds    *policy.Config `json:"checkpointThresholds,omitempty" yaml:"checkpointThresholds,omitempty"`
	DefaultSessionTimeoutMs int            `json:"defaultSessionTimeoutMs,omitempty" yaml:"defaultSessionTimeoutMs,omitempty"`
	CheckpointTTLMs         int            `json:"checkpointTtlMs,omitempty" yaml:"checkpointTtlMs,omitempty"`
	SensitiveVerbs          []string       `json:"sensitiveVerbs,omitempty" yaml:"sensitiveVerbs,omitempty"`
}

// StorageConfig selects a persistence driver.
type StorageConfig struct {
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	URL    string `json:"url,omitempty" yaml:"url,omitempty"`
}

// RecoveryConfig holds supervisor call defaults.
type RecoveryConfig struct {
	MaxRetries    int `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	TimeoutMs     int `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	BaseDelayMs   int `json:"baseDelayMs,omitempty" yaml:"baseDelayMs,omitempty"`
	MaxConcurrent int `json:"maxConcurrent,omitempty" yaml:"maxConcurrent,omitempty"`
}

// TracingConfig enables OpenTelemetry spans.
type TracingConfig struct {
	Enabled    bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Service    string `json:"service,omitempty" yaml:"service,omitempty"`
	Version    string `json:"version,omitempty" yaml:"version,omitempty"`
	OutputFile string `json:"outputFile,omitempty" yaml:"outputFile,omitempty"`
}

// MetricsConfig enables Prometheus collectors.
type MetricsConfig struct {
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() *Config {
	return &Config{
		Default: ModuleConfig{
			MaxAutoRecoveryAttempts: 3,
			RecoveryTimeoutMs:       int(recovery.DefaultTimeout / time.Millisecond),
			DefaultSessionTimeoutMs: int(session.DefaultTimeout / time.Millisecond),
			CheckpointTTLMs:         int(checkpoint.DefaultTTL / time.Millisecond),
		},
		Storage: StorageConfig{Driver: DriverMemory},
		Recovery: RecoveryConfig{
			MaxRetries:  recovery.DefaultMaxRetries,
			TimeoutMs:   int(recovery.DefaultTimeout / time.Millisecond),
			BaseDelayMs: int(recovery.DefaultBaseDelay / time.Millisecond),
		},
		Tracing: TracingConfig{Service: "hitl"},
	}
}

// LoadConfig reads a YAML (or JSON) document from any afs supported URL.
// ${env.KEY} references are expanded before parsing.
func LoadConfig(ctx context.Context, URL string, options ...storage.Option) (*Config, error) {
	data, err := afs.New().DownloadWithURL(ctx, URL, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", URL, err)
	}
	ret := DefaultConfig()
	if err := yaml.Unmarshal([]byte(envexpr.Expand(string(data))), ret); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", URL, err)
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

// Validate returns the first invalid setting or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if err := c.Default.validate("default"); err != nil {
		return err
	}
	for id, module := range c.Modules {
		if module == nil {
			continue
		}
		if err := module.validate("modules." + id); err != nil {
			return err
		}
	}
	switch c.Storage.Driver {
	case "", DriverMemory:
	case DriverFS, DriverSQLite:
		if c.Storage.URL == "" {
			return &model.ValidationError{Field: "storage.url", Reason: "required for driver " + c.Storage.Driver}
		}
	default:
		return &model.ValidationError{Field: "storage.driver", Reason: "unsupported driver " + c.Storage.Driver}
	}
	switch c.Audit.Driver {
	case "", DriverMemory:
	case DriverFS, DriverBadger, DriverSQLite:
		if c.Audit.URL == "" {
			return &model.ValidationError{Field: "audit.url", Reason: "required for driver " + c.Audit.Driver}
		}
	default:
		return &model.ValidationError{Field: "audit.driver", Reason: "unsupported driver " + c.Audit.Driver}
	}
	if c.Recovery.MaxRetries < 0 || c.Recovery.TimeoutMs < 0 || c.Recovery.BaseDelayMs < 0 || c.Recovery.MaxConcurrent < 0 {
		return &model.ValidationError{Field: "recovery", Reason: "values must not be negative"}
	}
	return nil
}

func (m *ModuleConfig) validate(path string) error {
	if m.MaxAutoRecoveryAttempts < 0 || m.RecoveryTimeoutMs < 0 || m.DefaultSessionTimeoutMs < 0 || m.CheckpointTTLMs < 0 {
		return &model.ValidationError{Field: path, Reason: "durations and attempts must not be negative"}
	}
	for failureType, threshold := range m.EscalationThresholds {
		if threshold < 0 {
			return &model.ValidationError{Field: path + ".escalationThresholds." + failureType, Reason: "must not be negative"}
		}
	}
	if err := m.CheckpointThresholds.Validate(); err != nil {
		return fmt.Errorf("%s.checkpointThresholds: %w", path, err)
	}
	return nil
}

// Module returns the effective configuration of a module.
func (c *Config) Module(moduleID string) ModuleConfig {
	ret := c.Default
	module, ok := c.Modules[moduleID]
	if !ok || module == nil {
		return ret
	}
	if module.AutoRecoveryEnabled != nil {
		ret.AutoRecoveryEnabled = module.AutoRecoveryEnabled
	}
	if module.MaxAutoRecoveryAttempts > 0 {
		ret.MaxAutoRecoveryAttempts = module.MaxAutoRecoveryAttempts
	}
	if module.RecoveryTimeoutMs > 0 {
		ret.RecoveryTimeoutMs = module.RecoveryTimeoutMs
	}
	if module.EscalationThresholds != nil {
		ret.EscalationThresholds = module.EscalationThresholds
	}
	if module.CheckpointThresholds != nil {
		ret.CheckpointThresholds = module.CheckpointThresholds
	}
	if module.DefaultSessionTimeoutMs > 0 {
		ret.DefaultSessionTimeoutMs = module.DefaultSessionTimeoutMs
	}
	if module.CheckpointTTLMs > 0 {
		ret.CheckpointTTLMs = module.CheckpointTTLMs
	}
	if module.SensitiveVerbs != nil {
		ret.SensitiveVerbs = module.SensitiveVerbs
	}
	return ret
}

// Policy builds the risk policy of the module config.
func (m ModuleConfig) Policy() *policy.Policy {
	ret := policy.FromConfig(m.CheckpointThresholds)
	if ret == nil {
		ret = &policy.Policy{}
	}
	if len(m.SensitiveVerbs) > 0 {
		ret.SensitiveVerbs = append([]string(nil), m.SensitiveVerbs...)
	}
	return ret
}

// Recovery builds the supervisor configuration of the module config.
func (m ModuleConfig) Recovery() recovery.ModuleConfig {
	ret := recovery.ModuleConfig{
		AutoRecoveryEnabled:     m.AutoRecoveryEnabled != nil && *m.AutoRecoveryEnabled,
		MaxAutoRecoveryAttempts: m.MaxAutoRecoveryAttempts,
		RecoveryTimeout:         millis(m.RecoveryTimeoutMs),
	}
	if len(m.EscalationThresholds) > 0 {
		ret.EscalationThresholds = make(map[model.FailureType]int, len(m.EscalationThresholds))
		for failureType, threshold := range m.EscalationThresholds {
			ret.EscalationThresholds[model.FailureType(failureType)] = threshold
		}
	}
	return ret
}

func millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
