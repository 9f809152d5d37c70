package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DiskConfig describes a single backing store file for the segment pipeline.
type DiskConfig struct {
	Path string `yaml:"path"`
}

// AllocatorConfig controls the segment allocator's addressable capacity.
type AllocatorConfig struct {
	TotalCapacityBytes      int64 `yaml:"total_capacity_bytes"`
	SegmentSizeMultipleOf4K int   `yaml:"segment_size_multiple_of_4kb"`
}

// PipelineConfig tunes the per-disk producer/consumer I/O pipeline.
type PipelineConfig struct {
	RingDepth      int `yaml:"ring_depth"`
	WaitTimeoutMs  int `yaml:"wait_timeout_ms"`
	ReadCacheDepth int `yaml:"read_cache_depth"`
}

// RestoreConfig controls startup recovery from on-disk segment files.
type RestoreConfig struct {
	TryRestoreFromDisk bool `yaml:"try_restore_from_disk"`
	AutoDeleteOnExit   bool `yaml:"auto_delete_files_on_exit"`
}

// TelemetryConfig controls the ambient health/tracing reporting surface.
type TelemetryConfig struct {
	OtelEnabled          bool   `yaml:"otel_enabled"`
	HealthReportInterval string `yaml:"health_report_interval"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// EngineConfig holds all storage-engine configuration, grouped logically.
type EngineConfig struct {
	Disks     []DiskConfig    `yaml:"disks"`
	Allocator AllocatorConfig `yaml:"allocator"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Restore   RestoreConfig   `yaml:"restore"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// ExclusiveDiskLocking, when true, makes each disk pipeline take an
	// exclusive lock file next to its backing file on Open and release it
	// on Stop, guarding against two engine processes addressing the same
	// disk file concurrently. Left off by default because it is at odds
	// with restoring from an unclean shutdown (try_restore_from_disk):
	// a hard kill leaves the lock file behind, and a restart racing to
	// reacquire it before the stale-lock TTL elapses would otherwise fail
	// to start. Operators who run one process per data directory and
	// always shut down cleanly can turn it on for an extra guardrail.
	ExclusiveDiskLocking bool `yaml:"exclusive_disk_locking"`
}

// Config is the top-level configuration struct.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
}

// NumDisks returns the number of configured storage disks.
func (c *Config) NumDisks() int {
	return len(c.Engine.Disks)
}

// SegmentSizeBytes returns the configured segment size in bytes.
func (c *Config) SegmentSizeBytes() int64 {
	mult := c.Engine.Allocator.SegmentSizeMultipleOf4K
	if mult <= 0 {
		mult = 1
	}
	return int64(mult) * 4096
}

// Validate checks that the configuration is internally consistent enough to
// construct an engine from. It does not touch the filesystem.
func (c *Config) Validate() error {
	if len(c.Engine.Disks) == 0 {
		return fmt.Errorf("config: engine.disks must list at least one storage disk")
	}
	for i, d := range c.Engine.Disks {
		if d.Path == "" {
			return fmt.Errorf("config: engine.disks[%d].path is empty", i)
		}
	}
	if c.Engine.Allocator.TotalCapacityBytes <= 0 {
		return fmt.Errorf("config: engine.allocator.total_capacity_bytes must be positive")
	}
	if c.Engine.Allocator.SegmentSizeMultipleOf4K <= 0 {
		return fmt.Errorf("config: engine.allocator.segment_size_multiple_of_4kb must be positive")
	}
	if c.Engine.Pipeline.RingDepth <= 0 {
		return fmt.Errorf("config: engine.pipeline.ring_depth must be positive")
	}
	return nil
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	// Set default values
	cfg := &Config{
		Engine: EngineConfig{
			Disks: nil,
			Allocator: AllocatorConfig{
				TotalCapacityBytes:      1 << 30, // 1 GiB
				SegmentSizeMultipleOf4K: 1,        // 4096-byte segments
			},
			Pipeline: PipelineConfig{
				RingDepth:      256,
				WaitTimeoutMs:  10,
				ReadCacheDepth: 16,
			},
			Restore: RestoreConfig{
				TryRestoreFromDisk: false,
				AutoDeleteOnExit:   false,
			},
			Telemetry: TelemetryConfig{
				OtelEnabled:          false,
				HealthReportInterval: "5s",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "bundlestore.log",
		},
	}

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	// Read all data from the reader
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}

	// If data is empty, return defaults.
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
