package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// CacheBackend selects where conversion responses are cached.
type CacheBackend string

const (
	CacheMemory CacheBackend = "memory"
	CacheRedis  CacheBackend = "redis"
	CacheNone   CacheBackend = "none"
)

// CircuitBreaker configures the breaker in front of the conversion service.
type CircuitBreaker struct {
	MaxFailures         uint32        `mapstructure:"max_failures" validate:"min=1"`
	Timeout             time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxHalfOpenRequests uint32        `mapstructure:"max_half_open_requests" validate:"min=1"`
}

// Config holds all configuration for sigmalens
type Config struct {
	API struct {
		Host           string        `mapstructure:"host"`
		Port           int           `mapstructure:"port" validate:"min=1,max=65535"`
		ReadTimeout    time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
		WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
		AllowedOrigins []string      `mapstructure:"allowed_origins"`
		MaxSessions    int           `mapstructure:"max_sessions" validate:"min=1"`
		RateLimit      struct {
			RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
			Burst             int     `mapstructure:"burst" validate:"min=1"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Conversion struct {
		BaseURL        string         `mapstructure:"base_url" validate:"required,url"`
		Timeout        time.Duration  `mapstructure:"timeout" validate:"gt=0"`
		RateLimit      float64        `mapstructure:"rate_limit" validate:"gte=0"`
		Burst          int            `mapstructure:"burst" validate:"min=1"`
		CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
	} `mapstructure:"conversion"`

	Search struct {
		Enabled        bool          `mapstructure:"enabled"`
		BaseURL        string        `mapstructure:"base_url" validate:"required_if=Enabled true,omitempty,url"`
		Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
		DebounceWindow time.Duration `mapstructure:"debounce_window" validate:"gt=0"`
	} `mapstructure:"search"`

	Cache struct {
		Backend CacheBackend  `mapstructure:"backend" validate:"oneof=memory redis none"`
		Size    int           `mapstructure:"size" validate:"min=1"`
		TTL     time.Duration `mapstructure:"ttl" validate:"gte=0"`
		Redis   struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db" validate:"gte=0"`
		} `mapstructure:"redis"`
	} `mapstructure:"cache"`

	Rules struct {
		Dir         string        `mapstructure:"dir" validate:"required"`
		Watch       bool          `mapstructure:"watch"`
		ReloadDelay time.Duration `mapstructure:"reload_delay" validate:"gt=0"`
	} `mapstructure:"rules"`

	Tracing struct {
		Enabled     bool    `mapstructure:"enabled"`
		ServiceName string  `mapstructure:"service_name"`
		SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
	} `mapstructure:"tracing"`

	Logging struct {
		Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	} `mapstructure:"logging"`
}

func setDefaults() {
	viper.SetDefault("api.host", "127.0.0.1")
	viper.SetDefault("api.port", 8081)
	viper.SetDefault("api.read_timeout", 15*time.Second)
	viper.SetDefault("api.write_timeout", 30*time.Second)
	viper.SetDefault("api.allowed_origins", []string{"http://localhost:8081", "http://127.0.0.1:8081"})
	viper.SetDefault("api.max_sessions", 256)
	viper.SetDefault("api.rate_limit.requests_per_second", 50.0)
	viper.SetDefault("api.rate_limit.burst", 100)

	viper.SetDefault("conversion.base_url", "http://127.0.0.1:5000")
	viper.SetDefault("conversion.timeout", 10*time.Second)
	viper.SetDefault("conversion.rate_limit", 20.0)
	viper.SetDefault("conversion.burst", 10)
	viper.SetDefault("conversion.circuit_breaker.max_failures", 5)
	viper.SetDefault("conversion.circuit_breaker.timeout", 30*time.Second)
	viper.SetDefault("conversion.circuit_breaker.max_half_open_requests", 1)

	viper.SetDefault("search.enabled", true)
	viper.SetDefault("search.base_url", "http://127.0.0.1:5000")
	viper.SetDefault("search.timeout", 5*time.Second)
	viper.SetDefault("search.debounce_window", 150*time.Millisecond)

	viper.SetDefault("cache.backend", string(CacheMemory))
	viper.SetDefault("cache.size", 1024)
	viper.SetDefault("cache.ttl", 10*time.Minute)
	viper.SetDefault("cache.redis.addr", "localhost:6379")
	viper.SetDefault("cache.redis.password", "")
	viper.SetDefault("cache.redis.db", 0)

	viper.SetDefault("rules.dir", "./sigma_rules")
	viper.SetDefault("rules.watch", true)
	viper.SetDefault("rules.reload_delay", 250*time.Millisecond)

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.service_name", "sigmalens")
	viper.SetDefault("tracing.sample_ratio", 1.0)

	viper.SetDefault("logging.level", "info")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv() {
	viper.SetEnvPrefix("SIGMALENS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Shorter names for the settings most often overridden
	_ = viper.BindEnv("rules.dir", "SIGMALENS_RULES_DIR")
	_ = viper.BindEnv("conversion.base_url", "SIGMALENS_CONVERTER_URL")
	_ = viper.BindEnv("search.base_url", "SIGMALENS_SEARCH_URL")
	_ = viper.BindEnv("cache.redis.addr", "SIGMALENS_REDIS_ADDR")
	_ = viper.BindEnv("cache.redis.password", "SIGMALENS_REDIS_PASSWORD")
}

// LoadConfig loads configuration from file and environment variables.
// A missing config file is not an error.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

var validate = validator.New()

func validateConfig(config *Config) error {
	if err := validate.Struct(config); err != nil {
		return err
	}

	for _, origin := range config.API.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid allowed origin %q", origin)
		}
	}

	if config.Cache.Backend == CacheRedis && config.Cache.Redis.Addr == "" {
		return errors.New("cache.redis.addr is required when cache.backend is redis")
	}
	return nil
}

// Addr returns the API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
