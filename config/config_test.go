package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs LoadConfig from an empty directory with a fresh viper.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	viper.Reset()
	t.Cleanup(viper.Reset)
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8081", cfg.Addr())
	assert.Equal(t, "http://127.0.0.1:5000", cfg.Conversion.BaseURL)
	assert.Equal(t, uint32(5), cfg.Conversion.CircuitBreaker.MaxFailures)
	assert.Equal(t, 150*time.Millisecond, cfg.Search.DebounceWindow)
	assert.Equal(t, CacheMemory, cfg.Cache.Backend)
	assert.Equal(t, "./sigma_rules", cfg.Rules.Dir)
	assert.True(t, cfg.Rules.Watch)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := isolate(t)
	yaml := `
api:
  port: 9000
cache:
  backend: redis
  redis:
    addr: cache:6379
search:
  debounce_window: 300ms
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("SIGMALENS_RULES_DIR", "/srv/rules")
	t.Setenv("SIGMALENS_CONVERTER_URL", "http://converter:5000")
	t.Setenv("SIGMALENS_LOGGING_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, CacheRedis, cfg.Cache.Backend)
	assert.Equal(t, "cache:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, 300*time.Millisecond, cfg.Search.DebounceWindow)
	assert.Equal(t, "/srv/rules", cfg.Rules.Dir)
	assert.Equal(t, "http://converter:5000", cfg.Conversion.BaseURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("api: [unclosed"), 0o600))

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	isolate(t)
	base, err := LoadConfig()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.API.Port = 70000 }},
		{"bad conversion url", func(c *Config) { c.Conversion.BaseURL = "converter" }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "disk" }},
		{"redis without addr", func(c *Config) {
			c.Cache.Backend = CacheRedis
			c.Cache.Redis.Addr = ""
		}},
		{"empty rules dir", func(c *Config) { c.Rules.Dir = "" }},
		{"zero breaker threshold", func(c *Config) { c.Conversion.CircuitBreaker.MaxFailures = 0 }},
		{"bad origin", func(c *Config) { c.API.AllowedOrigins = []string{"localhost"} }},
		{"sample ratio above one", func(c *Config) { c.Tracing.SampleRatio = 1.5 }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"search enabled without url", func(c *Config) { c.Search.BaseURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			assert.Error(t, validateConfig(&cfg))
		})
	}

	t.Run("search disabled without url", func(t *testing.T) {
		cfg := *base
		cfg.Search.Enabled = false
		cfg.Search.BaseURL = ""
		assert.NoError(t, validateConfig(&cfg))
	})
}
