// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devblok/korures/core"
	"github.com/gobuffalo/envy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
[pipeline]
workers = 4
upload_budget = 16
upload_time_budget = "2ms"
strict = false

[cache]
byte_budget = 1024
sweep_interval = "1s"

[streaming]
chunk_frames = 512
buffers = 4

[log]
level = "debug"
format = "json"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "koru.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfiguration(t *testing.T) {
	cfg, err := core.LoadConfiguration(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 16, cfg.Pipeline.UploadBudget)
	assert.Equal(t, 2*time.Millisecond, cfg.Pipeline.UploadTimeBudget.Std())
	assert.False(t, cfg.Pipeline.Strict)
	assert.Equal(t, int64(1024), cfg.Cache.ByteBudget)
	assert.Equal(t, time.Second, cfg.Cache.SweepInterval.Std())
	assert.Equal(t, 512, cfg.Streaming.ChunkFrames)
	assert.Equal(t, 4, cfg.Streaming.Buffers)
	assert.Equal(t, "json", cfg.Log.Format)

	// untouched sections keep their defaults
	assert.Equal(t, core.DefaultConfiguration().Time, cfg.Time)
	assert.Equal(t, core.DefaultConfiguration().Streaming.Threshold, cfg.Streaming.Threshold)
}

func TestLoadConfigurationWithoutFile(t *testing.T) {
	cfg, err := core.LoadConfiguration("")
	require.NoError(t, err)
	assert.Equal(t, core.DefaultConfiguration(), cfg)
}

func TestLoadConfigurationBadFile(t *testing.T) {
	_, err := core.LoadConfiguration(writeConfig(t, "[pipeline\nworkers = "))
	assert.Error(t, err)

	_, err = core.LoadConfiguration(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestApplyEnvironment(t *testing.T) {
	envy.Temp(func() {
		envy.Set("KORU_PIPELINE_WORKERS", "7")
		envy.Set("KORU_CACHE_SWEEP_INTERVAL", "250ms")
		envy.Set("KORU_RESOURCES_WATCH", "true")

		cfg := core.DefaultConfiguration()
		require.NoError(t, core.ApplyEnvironment(&cfg))
		assert.Equal(t, 7, cfg.Pipeline.Workers)
		assert.Equal(t, 250*time.Millisecond, cfg.Cache.SweepInterval.Std())
		assert.True(t, cfg.Resources.Watch)
	})
}

func TestApplyEnvironmentInvalid(t *testing.T) {
	envy.Temp(func() {
		envy.Set("KORU_PIPELINE_WORKERS", "many")
		cfg := core.DefaultConfiguration()
		assert.Error(t, core.ApplyEnvironment(&cfg))
		assert.Equal(t, core.DefaultConfiguration().Pipeline.Workers, cfg.Pipeline.Workers)
	})
}

func TestValidate(t *testing.T) {
	cfg := core.DefaultConfiguration()
	require.NoError(t, cfg.Validate())

	cfg.Pipeline.Workers = 0
	cfg.Streaming.Buffers = 1
	cfg.Log.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestValidateIntervals(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*core.Configuration)
	}{
		{"zero poll interval", func(c *core.Configuration) { c.Streaming.PollInterval = 0 }},
		{"negative poll interval", func(c *core.Configuration) { c.Streaming.PollInterval = core.Duration(-time.Millisecond) }},
		{"negative frames per second", func(c *core.Configuration) { c.Time.FramesPerSecond = -60 }},
		{"negative event poll delay", func(c *core.Configuration) { c.Time.EventPollDelay = core.Duration(-time.Millisecond) }},
		{"negative upload time budget", func(c *core.Configuration) { c.Pipeline.UploadTimeBudget = core.Duration(-time.Millisecond) }},
		{"negative sweep interval", func(c *core.Configuration) { c.Cache.SweepInterval = core.Duration(-time.Second) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := core.DefaultConfiguration()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := core.DefaultConfiguration()
	cfg.Cache.SweepInterval = 0
	cfg.Pipeline.UploadTimeBudget = 0
	cfg.Time.FramesPerSecond = 0
	assert.NoError(t, cfg.Validate(), "zero means disabled or unbounded")
}

func TestDurationText(t *testing.T) {
	var d core.Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
