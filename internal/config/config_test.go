package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "isopool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool:
  workers: 2
  dispatch_policy: LRU
  default_timeout: 5s
  queueing_enabled: false
codec: msgpack
log:
  level: debug
  outputs: [stdout]
journal:
  enabled: true
  path: /tmp/isopool.journal
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Pool.Workers)
	assert.Equal(t, "lru", cfg.Pool.DispatchPolicy)
	assert.Equal(t, 5*time.Second, cfg.Pool.DefaultTimeout)
	assert.False(t, cfg.Pool.QueueingEnabled)
	assert.Equal(t, "msgpack", cfg.Codec)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"stdout"}, cfg.Log.Outputs)
	assert.True(t, cfg.Journal.Enabled)

	// untouched keys keep their defaults
	assert.Equal(t, 16, cfg.Pool.ChannelCapacity)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ISOPOOL_POOL_WORKERS", "8")
	t.Setenv("ISOPOOL_POOL_TASK_TIMEOUT", "750ms")
	t.Setenv("ISOPOOL_GATEWAY_ADDR", "127.0.0.1:6000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Pool.Workers)
	assert.Equal(t, 750*time.Millisecond, cfg.Pool.TaskTimeout)
	assert.Equal(t, "127.0.0.1:6000", cfg.Gateway.Addr)
}

func TestLoadConfigEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app_name: from-env\n"), 0o644))
	t.Setenv("ISOPOOL_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.AppName)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"log level":      "log:\n  level: loud\n",
		"policy":         "pool:\n  dispatch_policy: random\n",
		"codec":          "codec: xml\n",
		"workers":        "pool:\n  workers: -1\n",
		"journal path":   "journal:\n  enabled: true\n  path: \"\"\n",
		"negative delay": "pool:\n  task_timeout: -1s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool: [unclosed"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "read config")
}

func TestWriteThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "isopool.yaml")

	want := Default()
	want.Pool.Workers = 3
	want.Pool.TaskTimeout = 2 * time.Second
	want.Journal.Enabled = true
	require.NoError(t, Write(path, want))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "task_timeout: 2s")

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMustLoadPanics(t *testing.T) {
	assert.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "missing.yaml")) })
}
