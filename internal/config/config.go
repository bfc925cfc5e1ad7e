package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ResourceConfig bounds the pools the resource governor manages
type ResourceConfig struct {
	// MaxTotalMemoryMB caps the memory pool shared by all workers
	MaxTotalMemoryMB int `yaml:"max_total_memory_mb"`

	// MaxDatabaseConnections caps the database connection pool
	MaxDatabaseConnections int `yaml:"max_database_connections"`

	// CPUThresholdPercent is the CPU pressure level that triggers throttling
	CPUThresholdPercent float64 `yaml:"cpu_threshold_percent"`

	// MemoryThresholdPercent is the memory pressure level that triggers reclamation
	MemoryThresholdPercent float64 `yaml:"memory_threshold_percent"`

	// DiskSpaceThresholdGB is the minimum free disk space before runs degrade
	DiskSpaceThresholdGB float64 `yaml:"disk_space_threshold_gb"`
}

// HistoryConfig represents execution history storage configuration
type HistoryConfig struct {
	// Enabled enables per-unit execution history recording
	Enabled bool `yaml:"enabled"`

	// DBPath is the path to the history database, resolved under the
	// testpilot home when relative
	DBPath string `yaml:"db_path"`

	// KeepDays is the number of days to keep execution records
	KeepDays int `yaml:"keep_days"`

	// MaxRecordsPerUnit is the maximum number of records to keep per test unit
	MaxRecordsPerUnit int `yaml:"max_records_per_unit"`
}

// Config represents testpilot configuration options
type Config struct {
	// MaxWorkers is the size of the worker process pool
	MaxWorkers int `yaml:"max_workers"`

	// IsolationStrategy picks how eagerly isolation constraints bind
	// grouping (conservative, balanced, aggressive, adaptive)
	IsolationStrategy string `yaml:"isolation_strategy"`

	// GroupingStrategy names the grouping preset (conservative, balanced,
	// aggressive, performance)
	GroupingStrategy string `yaml:"grouping_strategy"`

	// Resources bounds the governor's resource pools
	Resources ResourceConfig `yaml:"resources"`

	// EnableHistoricalOptimization feeds past run metrics into planning
	EnableHistoricalOptimization bool `yaml:"enable_historical_optimization"`

	// OutputDirectory receives results.json, summary.md and metrics.json
	OutputDirectory string `yaml:"output_directory"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where logs will be written, resolved under
	// the testpilot home when relative
	LogDir string `yaml:"log_dir"`

	// History contains execution history storage configuration
	History HistoryConfig `yaml:"history"`

	// HeartbeatInterval is the worker heartbeat period
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// UnitTimeout is the maximum execution time for a single test unit
	UnitTimeout time.Duration `yaml:"unit_timeout"`

	// ManifestPath points at an optional dependency manifest
	ManifestPath string `yaml:"manifest_path"`

	// Watch re-runs analysis when test sources change
	Watch bool `yaml:"watch"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		MaxWorkers:        4,
		IsolationStrategy: "adaptive",
		GroupingStrategy:  "balanced",
		Resources: ResourceConfig{
			MaxTotalMemoryMB:       4096,
			MaxDatabaseConnections: 20,
			CPUThresholdPercent:    90,
			MemoryThresholdPercent: 85,
			DiskSpaceThresholdGB:   5,
		},
		EnableHistoricalOptimization: true,
		OutputDirectory:              "test-results",
		LogLevel:                     "info",
		LogDir:                       "logs",
		History: HistoryConfig{
			Enabled:           true,
			DBPath:            "history.db",
			KeepDays:          90,
			MaxRecordsPerUnit: 100,
		},
		HeartbeatInterval: 5 * time.Second,
		UnitTimeout:       2 * time.Minute,
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// File doesn't exist, return defaults (not an error)
		return cfg, nil
	}

	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	// Use a temporary struct to handle duration parsing
	type yamlConfig struct {
		MaxWorkers                   int            `yaml:"max_workers"`
		IsolationStrategy            string         `yaml:"isolation_strategy"`
		GroupingStrategy             string         `yaml:"grouping_strategy"`
		Resources                    ResourceConfig `yaml:"resources"`
		EnableHistoricalOptimization bool           `yaml:"enable_historical_optimization"`
		OutputDirectory              string         `yaml:"output_directory"`
		LogLevel                     string         `yaml:"log_level"`
		LogDir                       string         `yaml:"log_dir"`
		History                      HistoryConfig  `yaml:"history"`
		HeartbeatInterval            string         `yaml:"heartbeat_interval"`
		UnitTimeout                  string         `yaml:"unit_timeout"`
		ManifestPath                 string         `yaml:"manifest_path"`
		Watch                        bool           `yaml:"watch"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply non-zero values from file (merging with defaults)
	if yamlCfg.MaxWorkers != 0 {
		cfg.MaxWorkers = yamlCfg.MaxWorkers
	}
	if yamlCfg.IsolationStrategy != "" {
		cfg.IsolationStrategy = yamlCfg.IsolationStrategy
	}
	if yamlCfg.GroupingStrategy != "" {
		cfg.GroupingStrategy = yamlCfg.GroupingStrategy
	}
	if yamlCfg.OutputDirectory != "" {
		cfg.OutputDirectory = yamlCfg.OutputDirectory
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.HeartbeatInterval != "" {
		interval, err := time.ParseDuration(yamlCfg.HeartbeatInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid heartbeat_interval format %q: %w", yamlCfg.HeartbeatInterval, err)
		}
		cfg.HeartbeatInterval = interval
	}
	if yamlCfg.UnitTimeout != "" {
		timeout, err := time.ParseDuration(yamlCfg.UnitTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid unit_timeout format %q: %w", yamlCfg.UnitTimeout, err)
		}
		cfg.UnitTimeout = timeout
	}
	if yamlCfg.ManifestPath != "" {
		cfg.ManifestPath = yamlCfg.ManifestPath
	}
	// Watch is explicitly set if present in YAML
	if yamlCfg.Watch {
		cfg.Watch = yamlCfg.Watch
	}

	// Booleans that default to true and nested sections need presence
	// detection, so unmarshal the raw document a second time
	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err == nil {
		if _, exists := rawMap["enable_historical_optimization"]; exists {
			cfg.EnableHistoricalOptimization = yamlCfg.EnableHistoricalOptimization
		}

		if resourcesSection, exists := rawMap["resources"]; exists && resourcesSection != nil {
			// Resources section exists in YAML, merge it
			res := yamlCfg.Resources

			// For nested struct, we need to check which fields were actually set
			resourcesMap, _ := resourcesSection.(map[string]interface{})

			if _, exists := resourcesMap["max_total_memory_mb"]; exists {
				cfg.Resources.MaxTotalMemoryMB = res.MaxTotalMemoryMB
			}
			if _, exists := resourcesMap["max_database_connections"]; exists {
				cfg.Resources.MaxDatabaseConnections = res.MaxDatabaseConnections
			}
			if _, exists := resourcesMap["cpu_threshold_percent"]; exists {
				cfg.Resources.CPUThresholdPercent = res.CPUThresholdPercent
			}
			if _, exists := resourcesMap["memory_threshold_percent"]; exists {
				cfg.Resources.MemoryThresholdPercent = res.MemoryThresholdPercent
			}
			if _, exists := resourcesMap["disk_space_threshold_gb"]; exists {
				cfg.Resources.DiskSpaceThresholdGB = res.DiskSpaceThresholdGB
			}
		}

		if historySection, exists := rawMap["history"]; exists && historySection != nil {
			// History section exists in YAML, merge it
			hist := yamlCfg.History

			historyMap, _ := historySection.(map[string]interface{})

			if _, exists := historyMap["enabled"]; exists {
				cfg.History.Enabled = hist.Enabled
			}
			if _, exists := historyMap["db_path"]; exists {
				// Explicitly set db_path, even if empty string
				cfg.History.DBPath = hist.DBPath
			}
			if _, exists := historyMap["keep_days"]; exists {
				cfg.History.KeepDays = hist.KeepDays
			}
			if _, exists := historyMap["max_records_per_unit"]; exists {
				cfg.History.MaxRecordsPerUnit = hist.MaxRecordsPerUnit
			}
		}
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .testpilot/config.yaml in the specified directory
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	configPath := filepath.Join(dir, ".testpilot", "config.yaml")
	return LoadConfig(configPath)
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
// This allows CLI flags to take precedence over config file settings
func (c *Config) MergeWithFlags(maxWorkers *int, isolationStrategy, groupingStrategy *string, outputDir, logLevel, logDir *string, unitTimeout *time.Duration, manifestPath *string, watch, optimize *bool) {
	if maxWorkers != nil {
		c.MaxWorkers = *maxWorkers
	}
	if isolationStrategy != nil {
		c.IsolationStrategy = *isolationStrategy
	}
	if groupingStrategy != nil {
		c.GroupingStrategy = *groupingStrategy
	}
	if outputDir != nil {
		c.OutputDirectory = *outputDir
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
	if unitTimeout != nil {
		c.UnitTimeout = *unitTimeout
	}
	if manifestPath != nil {
		c.ManifestPath = *manifestPath
	}
	if watch != nil {
		c.Watch = *watch
	}
	if optimize != nil {
		c.EnableHistoricalOptimization = *optimize
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	// Validate max_workers
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be >= 1, got %d", c.MaxWorkers)
	}

	// Validate isolation_strategy
	validIsolation := map[string]bool{
		"conservative": true,
		"balanced":     true,
		"aggressive":   true,
		"adaptive":     true,
	}
	if !validIsolation[c.IsolationStrategy] {
		return fmt.Errorf("invalid isolation_strategy %q, must be one of: conservative, balanced, aggressive, adaptive", c.IsolationStrategy)
	}

	// Validate grouping_strategy
	validGrouping := map[string]bool{
		"conservative": true,
		"balanced":     true,
		"aggressive":   true,
		"performance":  true,
	}
	if !validGrouping[c.GroupingStrategy] {
		return fmt.Errorf("invalid grouping_strategy %q, must be one of: conservative, balanced, aggressive, performance", c.GroupingStrategy)
	}

	// Validate resource limits
	if c.Resources.MaxTotalMemoryMB <= 0 {
		return fmt.Errorf("resources.max_total_memory_mb must be > 0, got %d", c.Resources.MaxTotalMemoryMB)
	}
	if c.Resources.MaxDatabaseConnections <= 0 {
		return fmt.Errorf("resources.max_database_connections must be > 0, got %d", c.Resources.MaxDatabaseConnections)
	}
	if c.Resources.CPUThresholdPercent <= 0 || c.Resources.CPUThresholdPercent > 100 {
		return fmt.Errorf("resources.cpu_threshold_percent must be in (0, 100], got %v", c.Resources.CPUThresholdPercent)
	}
	if c.Resources.MemoryThresholdPercent <= 0 || c.Resources.MemoryThresholdPercent > 100 {
		return fmt.Errorf("resources.memory_threshold_percent must be in (0, 100], got %v", c.Resources.MemoryThresholdPercent)
	}
	if c.Resources.DiskSpaceThresholdGB < 0 {
		return fmt.Errorf("resources.disk_space_threshold_gb must be >= 0, got %v", c.Resources.DiskSpaceThresholdGB)
	}

	// Validate output_directory
	if c.OutputDirectory == "" {
		return fmt.Errorf("output_directory cannot be empty")
	}

	// Validate log_level
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	// Heartbeats drive staleness detection, so the interval must be positive
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be > 0, got %v", c.HeartbeatInterval)
	}

	// UnitTimeout can be 0 (no timeout) or positive, negative is invalid
	if c.UnitTimeout < 0 {
		return fmt.Errorf("unit_timeout must be >= 0, got %v", c.UnitTimeout)
	}

	// Validate history configuration
	if c.History.Enabled {
		if c.History.DBPath == "" {
			return fmt.Errorf("history.db_path cannot be empty when history is enabled")
		}
		if c.History.KeepDays < 0 {
			return fmt.Errorf("history.keep_days must be >= 0, got %d", c.History.KeepDays)
		}
		if c.History.MaxRecordsPerUnit < 0 {
			return fmt.Errorf("history.max_records_per_unit must be >= 0, got %d", c.History.MaxRecordsPerUnit)
		}
	}

	return nil
}
