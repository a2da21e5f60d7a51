package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig configures task persistence.
type StoreConfig struct {
	// DBPath is the SQLite database file; ":memory:" keeps tasks in memory.
	DBPath string `yaml:"db_path"`
}

// TaskManagerConfig configures the task manager health loop.
type TaskManagerConfig struct {
	HealthInterval time.Duration `yaml:"health_interval"`
	StallThreshold time.Duration `yaml:"stall_threshold"`
	// Retention is how long terminal tasks stay in memory.
	Retention time.Duration `yaml:"retention"`
}

// ValidationConfig configures step validation.
type ValidationConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	// RulesFile overrides the embedded validator tables.
	RulesFile string `yaml:"rules_file"`
	// PatternsFile overrides the embedded scoring and research tables.
	PatternsFile string `yaml:"patterns_file"`
}

// FallbackConfig configures the fallback monitor.
type FallbackConfig struct {
	Threshold            float64       `yaml:"threshold"`
	MaxPlanRecords       int           `yaml:"max_plan_records"`
	MaxValidationRecords int           `yaml:"max_validation_records"`
	AlertCooldown        time.Duration `yaml:"alert_cooldown"`
	// DataDir holds the alert log and the JSON documents.
	DataDir string `yaml:"data_dir"`
}

// Config represents taskpilot configuration options
type Config struct {
	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`
	// LogFormat is text or json
	LogFormat string `yaml:"log_format"`

	Store       StoreConfig       `yaml:"store"`
	TaskManager TaskManagerConfig `yaml:"task_manager"`
	Validation  ValidationConfig  `yaml:"validation"`
	Fallback    FallbackConfig    `yaml:"fallback"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Store: StoreConfig{
			DBPath: "tasks.db",
		},
		TaskManager: TaskManagerConfig{
			HealthInterval: 30 * time.Second,
			StallThreshold: time.Hour,
			Retention:      24 * time.Hour,
		},
		Validation: ValidationConfig{
			MaxAttempts: 5,
		},
		Fallback: FallbackConfig{
			Threshold:            0.3,
			MaxPlanRecords:       1000,
			MaxValidationRecords: 2000,
			AlertCooldown:        10 * time.Minute,
			DataDir:              "fallback",
		},
	}
}

// yamlConfig mirrors Config with durations as strings ("30s", "1h").
type yamlConfig struct {
	LogLevel    string      `yaml:"log_level"`
	LogFormat   string      `yaml:"log_format"`
	Store       StoreConfig `yaml:"store"`
	TaskManager struct {
		HealthInterval string `yaml:"health_interval"`
		StallThreshold string `yaml:"stall_threshold"`
		Retention      string `yaml:"retention"`
	} `yaml:"task_manager"`
	Validation ValidationConfig `yaml:"validation"`
	Fallback   struct {
		Threshold            float64 `yaml:"threshold"`
		MaxPlanRecords       int     `yaml:"max_plan_records"`
		MaxValidationRecords int     `yaml:"max_validation_records"`
		AlertCooldown        string  `yaml:"alert_cooldown"`
		DataDir              string  `yaml:"data_dir"`
	} `yaml:"fallback"`
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply non-zero values from file (merging with defaults)
	if y.LogLevel != "" {
		cfg.LogLevel = y.LogLevel
	}
	if y.LogFormat != "" {
		cfg.LogFormat = y.LogFormat
	}
	if y.Store.DBPath != "" {
		cfg.Store.DBPath = y.Store.DBPath
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"task_manager.health_interval", y.TaskManager.HealthInterval, &cfg.TaskManager.HealthInterval},
		{"task_manager.stall_threshold", y.TaskManager.StallThreshold, &cfg.TaskManager.StallThreshold},
		{"task_manager.retention", y.TaskManager.Retention, &cfg.TaskManager.Retention},
		{"fallback.alert_cooldown", y.Fallback.AlertCooldown, &cfg.Fallback.AlertCooldown},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s format %q: %w", d.key, d.raw, err)
		}
		*d.dst = v
	}

	if y.Validation.MaxAttempts != 0 {
		cfg.Validation.MaxAttempts = y.Validation.MaxAttempts
	}
	if y.Validation.RulesFile != "" {
		cfg.Validation.RulesFile = y.Validation.RulesFile
	}
	if y.Validation.PatternsFile != "" {
		cfg.Validation.PatternsFile = y.Validation.PatternsFile
	}
	if y.Fallback.Threshold != 0 {
		cfg.Fallback.Threshold = y.Fallback.Threshold
	}
	if y.Fallback.MaxPlanRecords != 0 {
		cfg.Fallback.MaxPlanRecords = y.Fallback.MaxPlanRecords
	}
	if y.Fallback.MaxValidationRecords != 0 {
		cfg.Fallback.MaxValidationRecords = y.Fallback.MaxValidationRecords
	}
	if y.Fallback.DataDir != "" {
		cfg.Fallback.DataDir = y.Fallback.DataDir
	}

	return cfg, nil
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(logLevel, logFormat, dbPath, dataDir *string, maxAttempts *int) {
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if logFormat != nil {
		c.LogFormat = *logFormat
	}
	if dbPath != nil {
		c.Store.DBPath = *dbPath
	}
	if dataDir != nil {
		c.Fallback.DataDir = *dataDir
	}
	if maxAttempts != nil {
		c.Validation.MaxAttempts = *maxAttempts
	}
}

// Validate validates the configuration values
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log_format %q, must be text or json", c.LogFormat)
	}
	if c.Store.DBPath == "" {
		return fmt.Errorf("store.db_path cannot be empty")
	}

	tm := c.TaskManager
	if tm.HealthInterval <= 0 || tm.StallThreshold <= 0 || tm.Retention <= 0 {
		return fmt.Errorf("task_manager durations must be > 0")
	}

	if c.Validation.MaxAttempts < 3 {
		return fmt.Errorf("validation.max_attempts must be >= 3, got %d", c.Validation.MaxAttempts)
	}

	fb := c.Fallback
	if fb.Threshold <= 0 || fb.Threshold > 1 {
		return fmt.Errorf("fallback.threshold must be in (0, 1], got %v", fb.Threshold)
	}
	if fb.MaxPlanRecords <= 0 {
		return fmt.Errorf("fallback.max_plan_records must be > 0, got %d", fb.MaxPlanRecords)
	}
	if fb.MaxValidationRecords <= 0 {
		return fmt.Errorf("fallback.max_validation_records must be > 0, got %d", fb.MaxValidationRecords)
	}
	if fb.AlertCooldown < 0 {
		return fmt.Errorf("fallback.alert_cooldown must be >= 0, got %v", fb.AlertCooldown)
	}
	if fb.DataDir == "" {
		return fmt.Errorf("fallback.data_dir cannot be empty")
	}
	return nil
}
