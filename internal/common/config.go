package common

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Blob     BlobConfig     `yaml:"blob" mapstructure:"blob"`
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the job record store backend.
type StoreConfig struct {
	Driver           string        `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL      string        `yaml:"database_url" mapstructure:"database_url"`
	MaxConns         int32         `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns         int32         `yaml:"min_conns" mapstructure:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime" mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time" mapstructure:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout" mapstructure:"statement_timeout"`
}

// BlobConfig configures raw document storage.
type BlobConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// UpstreamConfig configures the external vision extraction service.
type UpstreamConfig struct {
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	Model       string        `yaml:"model" mapstructure:"model"`
	Temperature float32       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RatePerSec  float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst   int           `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// CacheConfig configures the idempotency memo store.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// PipelineConfig configures the dispatcher's worker queue.
type PipelineConfig struct {
	Workers        int           `yaml:"workers" mapstructure:"workers"`
	QueueSize      int           `yaml:"queue_size" mapstructure:"queue_size"`
	ProcessTimeout time.Duration `yaml:"process_timeout" mapstructure:"process_timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// LoadConfig reads configuration from config.yaml and RECEIPTS_-prefixed
// environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RECEIPTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 20)
	v.SetDefault("store.min_conns", 5)
	v.SetDefault("store.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("store.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("store.dial_timeout", 3*time.Second)
	v.SetDefault("blob.dir", "./data/blobs")
	v.SetDefault("upstream.base_url", "https://api.openai.com/v1")
	v.SetDefault("upstream.model", "gpt-4o-mini")
	v.SetDefault("upstream.temperature", 0.0)
	v.SetDefault("upstream.timeout", 45*time.Second)
	v.SetDefault("upstream.rate_per_sec", 2.0)
	v.SetDefault("upstream.rate_burst", 4)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.path", "./data/extract-cache.db")
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 256)
	v.SetDefault("pipeline.process_timeout", 3*time.Minute)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_upload_bytes", 20<<20)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
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

// Validate checks the settings the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.Store.DatabaseURL == "" {
		return NewAppError("CONFIG_ERROR", "store.database_url is required", ErrInvalidInput)
	}
	if c.Upstream.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "upstream.api_key is required", ErrInvalidInput)
	}
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "server.addr is required", ErrInvalidInput)
	}
	return nil
}

// InitLogger builds a zap logger from the log settings.
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	return logger, nil
}
