// Package config loads Hive's configuration via viper, mirroring the
// teacher's load/default/env-bind layering for its own pool + orchestrator
// policy knobs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level Hive configuration.
type Config struct {
	Home         string         `mapstructure:"home"`
	Pool         PoolConfig     `mapstructure:"pool"`
	Orchestrator OrchConfig     `mapstructure:"orchestrator"`
	Memory       MemoryConfig   `mapstructure:"memory"`
	Endpoints    []EndpointSpec `mapstructure:"endpoints"`
}

// EndpointSpec describes one configured LLM endpoint.
type EndpointSpec struct {
	ID           string   `mapstructure:"id"`
	Provider     string   `mapstructure:"provider"`
	Model        string   `mapstructure:"model"`
	BaseURL      string   `mapstructure:"base_url"`
	CredentialEnv string  `mapstructure:"credential_env"`
	Priority     int      `mapstructure:"priority"`
	Capabilities []string `mapstructure:"capabilities"`
}

// Credential resolves the endpoint's API key from its configured env var.
func (e EndpointSpec) Credential() string {
	if e.CredentialEnv == "" {
		return ""
	}
	return os.Getenv(e.CredentialEnv)
}

// PoolConfig covers the failover/health-check policy, per SPEC_FULL.md §6.
type PoolConfig struct {
	MaxRetries              int `mapstructure:"max_retries"`
	CircuitBreakerThreshold int `mapstructure:"circuit_breaker_threshold"`
	HealthCheckIntervalSec  int `mapstructure:"health_check_interval_sec"`
}

// OrchConfig covers worker/task execution policy.
type OrchConfig struct {
	PeerReviewEnabled     bool `mapstructure:"peer_review_enabled"`
	SelfCorrectionEnabled bool `mapstructure:"self_correction_enabled"`
	MaxSubtaskAttempts    int  `mapstructure:"max_subtask_attempts"`
	ExecutionStepCap      int  `mapstructure:"execution_step_cap"`
	WorkerCount           int  `mapstructure:"worker_count"`
}

// MemoryConfig selects and configures the persistence sink.
type MemoryConfig struct {
	Driver string `mapstructure:"driver"` // "null" or "sqlite"
	DBPath string `mapstructure:"db_path"`
}

// Load reads configuration from configPath (or the default search path) and
// applies defaults/env overrides, mirroring the teacher's Load layering.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	home := os.Getenv("HIVE_HOME")
	if home == "" {
		home = "~/.hive"
	}
	home = expandHome(home)

	if configPath != "" {
		abs, _ := filepath.Abs(configPath)
		v.SetConfigFile(abs)
	} else {
		v.SetConfigName("hive")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath(home)
	}

	setDefaults(v)
	v.SetEnvPrefix("HIVE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file found; continue on defaults, like the teacher does.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Home == "" {
		cfg.Home = home
	}
	cfg.Home = expandHome(cfg.Home)
	if cfg.Memory.DBPath == "" {
		cfg.Memory.DBPath = filepath.Join(cfg.Home, "hive.db")
	}
	cfg.Memory.DBPath = expandHome(cfg.Memory.DBPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pool.max_retries", 3)
	v.SetDefault("pool.circuit_breaker_threshold", 5)
	v.SetDefault("pool.health_check_interval_sec", 60)

	v.SetDefault("orchestrator.peer_review_enabled", true)
	v.SetDefault("orchestrator.self_correction_enabled", true)
	v.SetDefault("orchestrator.max_subtask_attempts", 3)
	v.SetDefault("orchestrator.execution_step_cap", 5)
	v.SetDefault("orchestrator.worker_count", 3)

	v.SetDefault("memory.driver", "null")
}

// Validate rejects configurations the rest of the module cannot act on.
func (c *Config) Validate() error {
	if c.Pool.MaxRetries <= 0 {
		return fmt.Errorf("pool.max_retries must be positive: %d", c.Pool.MaxRetries)
	}
	if c.Pool.CircuitBreakerThreshold <= 0 {
		return fmt.Errorf("pool.circuit_breaker_threshold must be positive: %d", c.Pool.CircuitBreakerThreshold)
	}
	if c.Orchestrator.MaxSubtaskAttempts <= 0 {
		return fmt.Errorf("orchestrator.max_subtask_attempts must be positive: %d", c.Orchestrator.MaxSubtaskAttempts)
	}
	if c.Orchestrator.ExecutionStepCap <= 0 {
		return fmt.Errorf("orchestrator.execution_step_cap must be positive: %d", c.Orchestrator.ExecutionStepCap)
	}
	switch c.Memory.Driver {
	case "null", "sqlite":
	default:
		return fmt.Errorf("invalid memory.driver: %s (must be null or sqlite)", c.Memory.Driver)
	}
	for i, ep := range c.Endpoints {
		if ep.ID == "" {
			return fmt.Errorf("endpoints[%d]: id is required", i)
		}
		if ep.Provider == "" {
			return fmt.Errorf("endpoints[%d]: provider is required", i)
		}
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(dir, path[2:])
}
