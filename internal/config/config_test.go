package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/forecast-cli/internal/calibrate"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "forecast.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 3, cfg.Batch.MaxConcurrent)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.FastModel)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, "sonar-pro", cfg.Perplexity.Model)
	assert.Equal(t, "https://s.jina.ai", cfg.Jina.SearchBaseURL)
	assert.Equal(t, 128, cfg.Pipeline.BackgroundCacheSize)
	assert.Equal(t, calibrate.DefaultPolicy(), cfg.Calibration)
	assert.InDelta(t, 0.005, cfg.Pricing.Perplexity.PerQuery, 1e-9)
	assert.InDelta(t, 3.0, cfg.Pricing.Anthropic["claude-sonnet-4-5-20250929"].Input, 1e-9)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/forecast
log:
  level: debug
  format: console
calibration:
  max_total_shift: 3.0
  bands:
    - edge: 0.05
      width: 0.05
batch:
  max_concurrent: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Batch.MaxConcurrent)
	assert.InDelta(t, 3.0, cfg.Calibration.MaxTotalShift, 1e-9)
	assert.Equal(t, []calibrate.WidthBand{{Edge: 0.05, Width: 0.05}}, cfg.Calibration.Bands)
	// Defaults still apply for unset values.
	assert.InDelta(t, 0.7, cfg.Calibration.ConservatismFactor, 1e-9)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadEnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("FORECAST_SERVER_PORT", "9999")
	t.Setenv("FORECAST_ANTHROPIC_KEY", "sk-forecast")
	t.Setenv("PERPLEXITY_API_KEY", "pplx-alias")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "sk-forecast", cfg.Anthropic.Key)
	assert.Equal(t, "pplx-alias", cfg.Perplexity.Key)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Anthropic:   AnthropicConfig{Key: "k"},
			Store:       StoreConfig{Driver: "sqlite", DatabaseURL: "x.db"},
			Calibration: calibrate.DefaultPolicy(),
		}
	}

	tests := []struct {
		name       string
		mutate     func(*Config)
		requireLLM bool
		wantErr    string
	}{
		{name: "valid", mutate: func(*Config) {}, requireLLM: true},
		{name: "missing key", mutate: func(c *Config) { c.Anthropic.Key = "" }, requireLLM: true, wantErr: "anthropic.key"},
		{name: "missing key ok for store commands", mutate: func(c *Config) { c.Anthropic.Key = "" }},
		{name: "bad driver", mutate: func(c *Config) { c.Store.Driver = "mysql" }, wantErr: "unknown store driver"},
		{name: "empty url", mutate: func(c *Config) { c.Store.DatabaseURL = "" }, wantErr: "database_url"},
		{name: "bad conservatism", mutate: func(c *Config) { c.Calibration.ConservatismFactor = 1.5 }, wantErr: "conservatism_factor"},
		{name: "zero shift", mutate: func(c *Config) { c.Calibration.MaxTotalShift = 0 }, wantErr: "thresholds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate(tt.requireLLM)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitLogger(t *testing.T) {
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	err := InitLogger(LogConfig{Level: "loud"})
	require.Error(t, err)
}
