// Package config loads forecast-cli settings from config.yaml, FORECAST_*
// environment variables and defaults, and installs the global zap logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/forecast-cli/internal/calibrate"
	"github.com/sells-group/forecast-cli/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic   AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity  PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Jina        JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Store       StoreConfig      `yaml:"store" mapstructure:"store"`
	Calibration calibrate.Policy `yaml:"calibration" mapstructure:"calibration"`
	Pipeline    PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Batch       BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server      ServerConfig     `yaml:"server" mapstructure:"server"`
	Log         LogConfig        `yaml:"log" mapstructure:"log"`
	Pricing     cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
	// Model runs the research-heavy stages; FastModel runs validation and
	// clarification.
	Model             string  `yaml:"model" mapstructure:"model"`
	FastModel         string  `yaml:"fast_model" mapstructure:"fast_model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// PerplexityConfig holds Perplexity API settings. An empty key disables
// web-grounded background research.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// JinaConfig holds Jina search settings. An empty key disables search
// enrichment.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
	MaxResults    int    `yaml:"max_results" mapstructure:"max_results"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PipelineConfig configures forecast runs.
type PipelineConfig struct {
	BackgroundCacheSize int    `yaml:"background_cache_size" mapstructure:"background_cache_size"`
	OutDir              string `yaml:"out_dir" mapstructure:"out_dir"`
	RetryMaxAttempts    int    `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryBackoffMs      int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// BatchConfig configures batch forecasting.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxSessions    int      `yaml:"max_sessions" mapstructure:"max_sessions"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FORECAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys are also picked up from their conventional names.
	for key, alias := range map[string]string{
		"anthropic.key":  "ANTHROPIC_API_KEY",
		"perplexity.key": "PERPLEXITY_API_KEY",
		"jina.key":       "JINA_API_KEY",
	} {
		envKey := "FORECAST_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, alias); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.fast_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.temperature", 0.2)
	v.SetDefault("anthropic.requests_per_second", 2.0)
	v.SetDefault("anthropic.burst", 4)
	v.SetDefault("anthropic.max_retries", 2)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("jina.max_results", 5)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "forecast.db")

	policy := calibrate.DefaultPolicy()
	v.SetDefault("calibration.max_total_shift", policy.MaxTotalShift)
	v.SetDefault("calibration.extreme_log_odds", policy.ExtremeLogOdds)
	v.SetDefault("calibration.conservatism_factor", policy.ConservatismFactor)
	v.SetDefault("calibration.default_width", policy.DefaultWidth)
	bands := make([]map[string]any, len(policy.Bands))
	for i, b := range policy.Bands {
		bands[i] = map[string]any{"edge": b.Edge, "width": b.Width}
	}
	v.SetDefault("calibration.bands", bands)

	v.SetDefault("pipeline.background_cache_size", 128)
	v.SetDefault("pipeline.out_dir", "")
	v.SetDefault("pipeline.retry_max_attempts", 3)
	v.SetDefault("pipeline.retry_backoff_ms", 500)
	v.SetDefault("batch.max_concurrent", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_sessions", 256)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	rates := cost.DefaultRates()
	for model, r := range rates.Anthropic {
		prefix := "pricing.anthropic." + model
		v.SetDefault(prefix+".input", r.Input)
		v.SetDefault(prefix+".output", r.Output)
		v.SetDefault(prefix+".cache_write_mul", r.CacheWriteMul)
		v.SetDefault(prefix+".cache_read_mul", r.CacheReadMul)
	}
	v.SetDefault("pricing.perplexity.per_query", rates.Perplexity.PerQuery)
	v.SetDefault("pricing.jina.per_query", rates.Jina.PerQuery)
}

// Validate checks settings that would otherwise fail deep inside a run.
// requireLLM is false for commands that only read the store.
func (c *Config) Validate(requireLLM bool) error {
	if requireLLM && c.Anthropic.Key == "" {
		return eris.New("config: anthropic.key is required (set FORECAST_ANTHROPIC_KEY or ANTHROPIC_API_KEY)")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	p := c.Calibration
	if p.MaxTotalShift <= 0 || p.ExtremeLogOdds <= 0 {
		return eris.New("config: calibration thresholds must be positive")
	}
	if p.ConservatismFactor <= 0 || p.ConservatismFactor > 1 {
		return eris.Errorf("config: calibration.conservatism_factor %v outside (0,1]", p.ConservatismFactor)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
