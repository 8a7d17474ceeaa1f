// Package config loads opsgated's configuration from a YAML file plus
// environment overrides via viper, grounded on the teacher/pack's use of
// spf13/viper for daemon configuration and on config.py's option list
// (generalized from AWS/Bedrock specifics to a vendor-agnostic model
// registry).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opsgate/opsgate/internal/modelrouter"
)

// Config is the typed configuration record for opsgated. It is always a
// concrete struct, never a dynamic map, so callers get compile-time field
// checking.
type Config struct {
	Daemon      DaemonConfig      `mapstructure:"daemon"`
	Security    SecurityConfig    `mapstructure:"security"`
	Approval    ApprovalConfig    `mapstructure:"approval"`
	ModelRegistry map[string]ModelEntry `mapstructure:"model_registry"`
}

// DaemonConfig configures the Unix socket / HTTP listener lifecycle.
type DaemonConfig struct {
	SocketPath string `mapstructure:"socket_path"`
	PIDPath    string `mapstructure:"pid_path"`
	HTTPAddr   string `mapstructure:"http_addr"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// SecurityConfig configures the sandbox executor and validator.
type SecurityConfig struct {
	SandboxEnabled    bool          `mapstructure:"sandbox_enabled"`
	MaxExecutionTime  time.Duration `mapstructure:"max_execution_time"`
	PreferencesDir    string        `mapstructure:"preferences_dir"`
}

// ApprovalConfig configures the approval manager.
type ApprovalConfig struct {
	Timeout                     time.Duration `mapstructure:"timeout"`
	Learn                       bool          `mapstructure:"learn"`
	FailClosedOnModelParseError bool          `mapstructure:"model_fallback_fail_closed"`
	// AutoApproveSafe gates whether a safe-tier command skips human
	// approval outright; even when true, an explicit prior user deny for
	// that command still forces approval (spec.md's requiresApproval step 3).
	AutoApproveSafe bool `mapstructure:"auto_approve_safe"`
}

// ModelEntry is one model_registry entry, keyed by tier name ("cheap",
// "balanced", "strongest") in the YAML document.
type ModelEntry struct {
	Name       string  `mapstructure:"name"`
	PerKTokens float64 `mapstructure:"per_k_tokens"`
}

// Load reads configuration from path (if non-empty) and environment
// variables prefixed OPSGATE_, falling back to defaults for anything unset.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OPSGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("daemon.idle_timeout", 5*time.Minute)
	v.SetDefault("daemon.http_addr", "127.0.0.1:8737")
	v.SetDefault("security.sandbox_enabled", true)
	v.SetDefault("security.max_execution_time", 120*time.Second)
	v.SetDefault("approval.timeout", 5*time.Minute)
	v.SetDefault("approval.learn", true)
	v.SetDefault("approval.auto_approve_safe", true)
}

// Registry converts the configured model_registry into a modelrouter.Registry,
// falling back to modelrouter.DefaultRegistry entries for any tier left
// unset.
func (c Config) Registry() modelrouter.Registry {
	reg := modelrouter.DefaultRegistry()
	for tierName, entry := range c.ModelRegistry {
		tier := modelrouter.Tier(tierName)
		if _, known := reg[tier]; !known {
			continue
		}
		reg[tier] = modelrouter.ModelInfo{Name: entry.Name, Tier: tier, PerKTokens: entry.PerKTokens}
	}
	return reg
}
