package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all reasoning mesh configuration.
type Config struct {
	Name string `yaml:"name"`

	Planner   PlannerConfig   `yaml:"planner"`
	Memory    MemoryConfig    `yaml:"memory"`
	Router    RouterConfig    `yaml:"router"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// PlannerConfig configures goal planning, consensus and the monitor.
type PlannerConfig struct {
	DefaultQuorum        float64 `yaml:"default_quorum"`
	ProposingAgent       string  `yaml:"proposing_agent"`
	MonitorInterval      string  `yaml:"monitor_interval"`
	FailureWindow        int     `yaml:"failure_window"`    // attempts inspected per goal
	FailureThreshold     int     `yaml:"failure_threshold"` // failures in window that trigger replan
	EvaluationTimeout    string  `yaml:"evaluation_timeout"`
	ReplanTimeMultiplier float64 `yaml:"replan_time_multiplier"`
}

// MemoryConfig configures the cross-agent memory index.
type MemoryConfig struct {
	RetentionDays     int     `yaml:"retention_days"`
	MinScore          float64 `yaml:"min_score"` // confidence*decay below this is evicted
	DefaultWindowDays int     `yaml:"default_window_days"`
	CandidateLimit    int     `yaml:"candidate_limit"`
	DefaultLimit      int     `yaml:"default_limit"`
	CleanupInterval   string  `yaml:"cleanup_interval"`
}

// RetryConfig is the default retry policy for workflow steps.
type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	InitialDelay      string  `yaml:"initial_delay"`
}

// RouterConfig configures the command router.
type RouterConfig struct {
	HistorySize       int         `yaml:"history_size"`
	ApprovalThreshold float64     `yaml:"approval_threshold"` // 0 = unconstrained
	CommandTimeout    string      `yaml:"command_timeout"`
	DefaultRetry      RetryConfig `yaml:"default_retry"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres, memory
	Path   string `yaml:"path"`   // sqlite database file
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// TelemetryConfig configures the metrics exporter.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	ListenAddr  string `yaml:"listen_addr"`
}

// ValidDrivers lists the supported store drivers.
var ValidDrivers = []string{"sqlite", "postgres", "memory"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "reasonmesh",

		Planner: PlannerConfig{
			DefaultQuorum:        0.7,
			ProposingAgent:       "strategy_planner",
			MonitorInterval:      "5m",
			FailureWindow:        5,
			FailureThreshold:     2,
			EvaluationTimeout:    "30s",
			ReplanTimeMultiplier: 1.2,
		},

		Memory: MemoryConfig{
			RetentionDays:     30,
			MinScore:          0.1,
			DefaultWindowDays: 7,
			CandidateLimit:    100,
			DefaultLimit:      10,
			CleanupInterval:   "1h",
		},

		Router: RouterConfig{
			HistorySize:    100,
			CommandTimeout: "5m",
			DefaultRetry: RetryConfig{
				MaxAttempts:       1,
				BackoffMultiplier: 2,
				InitialDelay:      "1s",
			},
		},

		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "data/mesh.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},

		Telemetry: TelemetryConfig{
			ServiceName: "reasonmesh",
			ListenAddr:  ":9464",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if driver := os.Getenv("MESH_DB_DRIVER"); driver != "" {
		c.Store.Driver = driver
	}
	if path := os.Getenv("MESH_DB_PATH"); path != "" {
		c.Store.Path = path
	}
	if dsn := os.Getenv("MESH_DATABASE_URL"); dsn != "" {
		c.Store.DSN = dsn
		if os.Getenv("MESH_DB_DRIVER") == "" {
			c.Store.Driver = "postgres"
		}
	}
	if level := os.Getenv("MESH_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if q := os.Getenv("MESH_QUORUM"); q != "" {
		if v, err := strconv.ParseFloat(q, 64); err == nil {
			c.Planner.DefaultQuorum = v
		}
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetMonitorInterval returns the planner monitor interval.
func (c *Config) GetMonitorInterval() time.Duration {
	return parseDuration(c.Planner.MonitorInterval, 5*time.Minute)
}

// GetEvaluationTimeout returns the per-evaluator consensus timeout.
func (c *Config) GetEvaluationTimeout() time.Duration {
	return parseDuration(c.Planner.EvaluationTimeout, 30*time.Second)
}

// GetCleanupInterval returns how often memory cleanup runs.
func (c *Config) GetCleanupInterval() time.Duration {
	return parseDuration(c.Memory.CleanupInterval, time.Hour)
}

// GetCommandTimeout returns the per-command deadline.
func (c *Config) GetCommandTimeout() time.Duration {
	return parseDuration(c.Router.CommandTimeout, 5*time.Minute)
}

// GetRetryInitialDelay returns the default retry delay. Zero is allowed.
func (c *Config) GetRetryInitialDelay() time.Duration {
	if c.Router.DefaultRetry.InitialDelay == "0" {
		return 0
	}
	d, err := time.ParseDuration(c.Router.DefaultRetry.InitialDelay)
	if err != nil || d < 0 {
		return time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if q := c.Planner.DefaultQuorum; q <= 0 || q > 1 {
		return fmt.Errorf("invalid planner.default_quorum: %v (must be in (0,1])", q)
	}
	if c.Planner.FailureWindow < 1 {
		return fmt.Errorf("invalid planner.failure_window: %d", c.Planner.FailureWindow)
	}
	if c.Planner.FailureThreshold < 1 || c.Planner.FailureThreshold > c.Planner.FailureWindow {
		return fmt.Errorf("invalid planner.failure_threshold: %d (must be in [1,%d])",
			c.Planner.FailureThreshold, c.Planner.FailureWindow)
	}
	if c.Planner.ReplanTimeMultiplier < 1 {
		return fmt.Errorf("invalid planner.replan_time_multiplier: %v", c.Planner.ReplanTimeMultiplier)
	}
	if c.Memory.MinScore < 0 || c.Memory.MinScore > 1 {
		return fmt.Errorf("invalid memory.min_score: %v", c.Memory.MinScore)
	}
	if c.Memory.RetentionDays < 1 {
		return fmt.Errorf("invalid memory.retention_days: %d", c.Memory.RetentionDays)
	}
	if c.Router.HistorySize < 1 {
		return fmt.Errorf("invalid router.history_size: %d", c.Router.HistorySize)
	}
	if c.Router.ApprovalThreshold < 0 {
		return fmt.Errorf("invalid router.approval_threshold: %v", c.Router.ApprovalThreshold)
	}

	validDriver := false
	for _, d := range ValidDrivers {
		if c.Store.Driver == d {
			validDriver = true
			break
		}
	}
	if !validDriver {
		return fmt.Errorf("invalid store driver: %s (valid: %v)", c.Store.Driver, ValidDrivers)
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store driver postgres requires a dsn (set MESH_DATABASE_URL)")
	}

	return nil
}
