package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const devJWTSecret = "dev-only-secret-change-me"

// Config holds the application configuration.
type Config struct {
	ServerPort   int    `mapstructure:"port"`
	AppEnv       string `mapstructure:"app_env"`
	DatabasePath string `mapstructure:"database_path"`
	LogLevel     string `mapstructure:"log_level"`

	JWTSecret  string        `mapstructure:"jwt_secret"`
	JWTTTL     time.Duration `mapstructure:"jwt_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`

	CSRFStore     string `mapstructure:"csrf_store"` // memory or redis
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	CORSOrigins               []string `mapstructure:"cors_origins"`
	EnableVulnerableEndpoints bool     `mapstructure:"enable_vulnerable_endpoints"`

	SweepSchedule   string        `mapstructure:"sweep_schedule"`
	LoginRateLimit  int           `mapstructure:"login_rate_limit"`
	LoginRateWindow time.Duration `mapstructure:"login_rate_window"`
}

// IsProduction reports whether cookies and logs should use production settings.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load loads configuration from environment variables, an optional
// config.yaml, or defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("app_env", "development")
	v.SetDefault("database_path", "./owasp-lab.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_ttl", 24*time.Hour)
	v.SetDefault("bcrypt_cost", 10)
	v.SetDefault("csrf_store", "memory")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("cors_origins", []string{"http://localhost:3000", "http://localhost:3100"})
	v.SetDefault("enable_vulnerable_endpoints", false)
	v.SetDefault("sweep_schedule", "@every 5m")
	v.SetDefault("login_rate_limit", 5)
	v.SetDefault("login_rate_window", 5*time.Minute)
}

func (c *Config) validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid port %d", c.ServerPort)
	}
	if c.JWTSecret == "" {
		if c.IsProduction() {
			return errors.New("JWT_SECRET must be set in production")
		}
		log.Warn().Msg("JWT_SECRET not set, using the development secret")
		c.JWTSecret = devJWTSecret
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("invalid jwt ttl %s", c.JWTTTL)
	}
	c.CSRFStore = strings.ToLower(strings.TrimSpace(c.CSRFStore))
	switch c.CSRFStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported csrf store %q", c.CSRFStore)
	}
	if c.LoginRateLimit <= 0 || c.LoginRateWindow <= 0 {
		return errors.New("login rate limit and window must be positive")
	}
	return nil
}
