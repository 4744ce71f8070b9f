package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.7, cfg.Planner.DefaultQuorum)
	assert.Equal(t, 5, cfg.Planner.FailureWindow)
	assert.Equal(t, 2, cfg.Planner.FailureThreshold)
	assert.Equal(t, 30, cfg.Memory.RetentionDays)
	assert.Equal(t, 0.1, cfg.Memory.MinScore)
	assert.Equal(t, 100, cfg.Router.HistorySize)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Planner, cfg.Planner)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mesh.yaml")

	cfg := DefaultConfig()
	cfg.Planner.DefaultQuorum = 0.5
	cfg.Router.ApprovalThreshold = 250
	cfg.Logging.Categories = map[string]bool{"memory": false}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, loaded.Planner.DefaultQuorum)
	assert.Equal(t, 250.0, loaded.Router.ApprovalThreshold)
	assert.False(t, loaded.Logging.IsCategoryEnabled("memory"))
	assert.True(t, loaded.Logging.IsCategoryEnabled("router"))
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("planner: [unterminated"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("MESH_DATABASE_URL selects postgres", func(t *testing.T) {
		t.Setenv("MESH_DATABASE_URL", "postgres://mesh@localhost/mesh")
		t.Setenv("MESH_DB_DRIVER", "")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "postgres", cfg.Store.Driver)
		assert.Equal(t, "postgres://mesh@localhost/mesh", cfg.Store.DSN)
	})

	t.Run("explicit driver wins over DSN inference", func(t *testing.T) {
		t.Setenv("MESH_DATABASE_URL", "postgres://x")
		t.Setenv("MESH_DB_DRIVER", "memory")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "memory", cfg.Store.Driver)
	})

	t.Run("quorum and log level", func(t *testing.T) {
		t.Setenv("MESH_QUORUM", "0.8")
		t.Setenv("MESH_LOG_LEVEL", "debug")
		t.Setenv("MESH_DB_PATH", "/tmp/mesh.db")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 0.8, cfg.Planner.DefaultQuorum)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "/tmp/mesh.db", cfg.Store.Path)
	})

	t.Run("unparseable quorum is ignored", func(t *testing.T) {
		t.Setenv("MESH_QUORUM", "most")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, 0.7, cfg.Planner.DefaultQuorum)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero quorum", func(c *Config) { c.Planner.DefaultQuorum = 0 }},
		{"quorum above one", func(c *Config) { c.Planner.DefaultQuorum = 1.5 }},
		{"threshold above window", func(c *Config) { c.Planner.FailureThreshold = 9 }},
		{"shrinking replan multiplier", func(c *Config) { c.Planner.ReplanTimeMultiplier = 0.5 }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }},
		{"negative approval threshold", func(c *Config) { c.Router.ApprovalThreshold = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Minute, cfg.GetMonitorInterval())
	assert.Equal(t, 30*time.Second, cfg.GetEvaluationTimeout())
	assert.Equal(t, time.Second, cfg.GetRetryInitialDelay())

	cfg.Planner.MonitorInterval = "garbage"
	assert.Equal(t, 5*time.Minute, cfg.GetMonitorInterval())

	cfg.Router.DefaultRetry.InitialDelay = "0"
	assert.Equal(t, time.Duration(0), cfg.GetRetryInitialDelay())
}

func TestLoggingConversion(t *testing.T) {
	lc := LoggingConfig{Level: "warn", Format: "json", File: "x.log"}
	got := lc.ToLogging()
	assert.True(t, got.JSONFormat)
	assert.Equal(t, "warn", got.Level)
	assert.Equal(t, "x.log", got.File)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mesh.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { changes <- c }) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)

	updated := DefaultConfig()
	updated.Planner.MonitorInterval = "30s"
	require.NoError(t, updated.Save(path))

	select {
	case cfg := <-changes:
		assert.Equal(t, 30*time.Second, cfg.GetMonitorInterval())
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}

	cancel()
	require.NoError(t, <-done)
}
