package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	yamlContent := `
engine:
  disks:
    - path: "/mnt/disk0/bundles.bin"
    - path: "/mnt/disk1/bundles.bin"
  allocator:
    total_capacity_bytes: 1073741824
    segment_size_multiple_of_4kb: 2
  pipeline:
    ring_depth: 512
logging:
  level: "warn"
`
	reader := strings.NewReader(yamlContent)
	cfg, err := Load(reader)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 2, cfg.NumDisks())
	assert.Equal(t, "/mnt/disk0/bundles.bin", cfg.Engine.Disks[0].Path)
	assert.Equal(t, int64(1073741824), cfg.Engine.Allocator.TotalCapacityBytes)
	assert.Equal(t, 2, cfg.Engine.Allocator.SegmentSizeMultipleOf4K)
	assert.Equal(t, int64(8192), cfg.SegmentSizeBytes())
	assert.Equal(t, 512, cfg.Engine.Pipeline.RingDepth)
	assert.Equal(t, "warn", cfg.Logging.Level)

	// Defaults that were not overridden survive.
	assert.Equal(t, 10, cfg.Engine.Pipeline.WaitTimeoutMs)
	assert.Equal(t, 16, cfg.Engine.Pipeline.ReadCacheDepth)
}

func TestLoad_PartialConfig(t *testing.T) {
	yamlContent := `
engine:
  restore:
    try_restore_from_disk: true
`
	reader := strings.NewReader(yamlContent)
	cfg, err := Load(reader)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.True(t, cfg.Engine.Restore.TryRestoreFromDisk)
	// Defaults still present.
	assert.Equal(t, 256, cfg.Engine.Pipeline.RingDepth)
	assert.Equal(t, int64(1<<30), cfg.Engine.Allocator.TotalCapacityBytes)
}

func TestLoad_EmptyReader(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 256, cfg.Engine.Pipeline.RingDepth)

	reader := strings.NewReader("")
	cfg, err = Load(reader)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 256, cfg.Engine.Pipeline.RingDepth)
}

func TestLoad_InvalidYAML(t *testing.T) {
	yamlContent := `
engine:
  disks: this: is: invalid: yaml
`
	reader := strings.NewReader(yamlContent)
	_, err := Load(reader)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config yaml")
}

func TestLoadConfig_FileIntegration(t *testing.T) {
	t.Run("FileExists", func(t *testing.T) {
		yamlContent := `
engine:
  pipeline:
    ring_depth: 64
`
		tempDir := t.TempDir()
		configPath := filepath.Join(tempDir, "config.yaml")
		err := os.WriteFile(configPath, []byte(yamlContent), 0644)
		require.NoError(t, err)

		cfg, err := LoadConfig(configPath)
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, 64, cfg.Engine.Pipeline.RingDepth)
	})

	t.Run("FileDoesNotExist", func(t *testing.T) {
		tempDir := t.TempDir()
		configPath := filepath.Join(tempDir, "non_existent_config.yaml")

		cfg, err := LoadConfig(configPath)
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, 256, cfg.Engine.Pipeline.RingDepth)
	})
}

func TestValidate(t *testing.T) {
	t.Run("NoDisks", func(t *testing.T) {
		cfg, err := Load(nil)
		require.NoError(t, err)
		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one storage disk")
	})

	t.Run("Valid", func(t *testing.T) {
		cfg, err := Load(nil)
		require.NoError(t, err)
		cfg.Engine.Disks = []DiskConfig{{Path: "disk0.bin"}}
		require.NoError(t, cfg.Validate())
	})

	t.Run("EmptyDiskPath", func(t *testing.T) {
		cfg, err := Load(nil)
		require.NoError(t, err)
		cfg.Engine.Disks = []DiskConfig{{Path: ""}}
		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disks[0].path")
	})
}

func TestParseDuration(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	defaultDuration := 10 * time.Second

	testCases := []struct {
		name     string
		input    string
		expected time.Duration
	}{
		{"ValidSeconds", "5s", 5 * time.Second},
		{"ValidMilliseconds", "500ms", 500 * time.Millisecond},
		{"ValidMinutes", "2m", 2 * time.Minute},
		{"EmptyString", "", defaultDuration},
		{"ZeroString", "0", defaultDuration},
		{"InvalidString", "5x", defaultDuration},
		{"JustNumber", "10", defaultDuration},
		{"NilLogger", "5x", defaultDuration},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var testLogger *slog.Logger
			if tc.name != "NilLogger" {
				testLogger = logger
			}
			result := ParseDuration(tc.input, defaultDuration, testLogger)
			assert.Equal(t, tc.expected, result)
		})
	}
}
