package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"rcgraph/pkg/memory"
)

var defaultCfg = &Config{
	Mode:      "single",
	RingSize:  3,
	CacheSize: 64,
	LogLevel:  "info",
	Stress:    StressConfig{Workers: 4, Iterations: 10000},
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, defaultCfg, cfg)
	assert.NoError(t, cfg.Validate())

	mode, err := cfg.MemoryMode()
	require.NoError(t, err)
	assert.Equal(t, memory.SingleThreaded, mode)
}

func TestLoad_MissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("RCGRAPH_MODE", "arc")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	mode, err := cfg.MemoryMode()
	require.NoError(t, err)
	assert.Equal(t, memory.ThreadSafe, mode)
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	want := Config{
		Mode:         "threadsafe",
		RingSize:     5,
		CacheSize:    8,
		LogLevel:     "debug",
		SnapshotPath: "/tmp/snap.yaml",
		Stress:       StressConfig{Workers: 2, Iterations: 100},
	}
	b, err := yaml.Marshal(want)
	require.NoError(t, err)
	path := writeFile(t, "rcgraph.yaml", string(b))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, &want, cfg)

	t.Setenv("RCGRAPH_STRESS_WORKERS", "9")
	t.Setenv("LOG_LEVEL", "warn")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Stress.Workers)
	assert.Equal(t, "warn", cfg.LogLevel)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)
}

func TestLoad_DotEnv(t *testing.T) {
	// godotenv sets process variables; register them with t.Setenv so they
	// are restored after the test.
	t.Setenv("RCGRAPH_RING_SIZE", "")
	require.NoError(t, os.Unsetenv("RCGRAPH_RING_SIZE"))

	env := writeFile(t, ".env", "RCGRAPH_RING_SIZE=7\n")
	cfg, err := Load("", env, filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.RingSize)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeFile(t, "bad.yaml", "mode: quantum\nring_size: 0\nlog_level: chatty\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, `unknown memory mode "quantum"`)
	assert.ErrorContains(t, err, "ring_size must be at least 1")
	assert.ErrorContains(t, err, "log_level")
}

func TestLoad_Unparseable(t *testing.T) {
	path := writeFile(t, "broken.yaml", "mode: [unterminated\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "read config")
}

func TestConfig_Logger(t *testing.T) {
	cfg := *defaultCfg
	lggr, err := cfg.Logger()
	require.NoError(t, err)
	assert.NotNil(t, lggr)

	cfg.LogLevel = "loud"
	_, err = cfg.Logger()
	assert.Error(t, err)
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "rcgraph.toml", "mode = \"threadsafe\"\ncache_size = 16\n\n[stress]\nworkers = 3\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "threadsafe", cfg.Mode)
	assert.Equal(t, 16, cfg.CacheSize)
	assert.Equal(t, 3, cfg.Stress.Workers)
	assert.Equal(t, 10000, cfg.Stress.Iterations)
}
