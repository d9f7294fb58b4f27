// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port      string `mapstructure:"PORT"`
	Env       string `mapstructure:"APP_ENV"`
	StaticDir string `mapstructure:"STATIC_DIR"`

	StoreDriver         string `mapstructure:"STORE_DRIVER"`
	StoreURL            string `mapstructure:"STORE_URL"`
	StoreServiceKey     string `mapstructure:"STORE_SERVICE_KEY"`
	StoreTimeoutSeconds int    `mapstructure:"STORE_TIMEOUT_SECONDS"`

	DBMaxOpenConns           int `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes int `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`

	JWTSecret   string `mapstructure:"JWT_SECRET"`
	JWTTTLHours int    `mapstructure:"JWT_TTL_HOURS"`

	RedisURL       string `mapstructure:"REDIS_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	TracingEnabled     bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter    string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint       string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSampleRatio float64 `mapstructure:"TRACING_SAMPLE_RATIO"`
}

// LoadConfig loads application configuration from .env, config files and environment variables.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading configuration from the environment")
	}

	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	viper.SetDefault("PORT", "5000")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("STATIC_DIR", "dist")
	viper.SetDefault("STORE_DRIVER", "sqlite")
	viper.SetDefault("STORE_URL", "bilimshare.db")
	viper.SetDefault("STORE_SERVICE_KEY", "")
	viper.SetDefault("STORE_TIMEOUT_SECONDS", 10)
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("JWT_TTL_HOURS", 24)
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("ALLOWED_ORIGINS", "")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLE_RATIO", 1.0)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.StoreDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("STORE_DRIVER must be 'postgres' or 'sqlite', got %q", c.StoreDriver)
	}
	if c.StoreURL == "" {
		return errors.New("STORE_URL is required")
	}
	if c.StoreTimeoutSeconds <= 0 {
		return errors.New("STORE_TIMEOUT_SECONDS must be positive")
	}
	if c.DBConnMaxLifetimeMinutes < 0 {
		return errors.New("DB_CONN_MAX_LIFETIME_MINUTES cannot be negative")
	}
	for _, origin := range c.Origins() {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("ALLOWED_ORIGINS entry %q is not a valid origin", origin)
		}
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.StoreDriver == "postgres" && c.StoreServiceKey == "" && !strings.Contains(c.StoreURL, "@") {
			return errors.New("STORE_SERVICE_KEY or credentials in STORE_URL are required in production")
		}
		if len(c.Origins()) == 0 {
			log.Println("WARNING: ALLOWED_ORIGINS is empty in production. Every origin will be accepted.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}

// IsProduction reports whether the production profile is active.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Origins splits ALLOWED_ORIGINS into trimmed, non-empty entries.
// An empty result means every origin is accepted.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, strings.TrimRight(o, "/"))
		}
	}
	return origins
}

// StoreTimeout is the per-call deadline applied to store queries.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

// TokenTTL is the lifetime of issued session tokens.
func (c *Config) TokenTTL() time.Duration {
	if c.JWTTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.JWTTTLHours) * time.Hour
}

// StoreDSN returns the connection string for the configured driver. For
// PostgreSQL URLs the service key is injected as the password when the URL
// carries none.
func (c *Config) StoreDSN() (string, error) {
	if c.StoreDriver != "postgres" || c.StoreServiceKey == "" {
		return c.StoreURL, nil
	}
	u, err := url.Parse(c.StoreURL)
	if err != nil || u.Scheme == "" {
		return "", fmt.Errorf("STORE_URL must be a postgres:// URL when STORE_SERVICE_KEY is set")
	}
	if u.User == nil {
		u.User = url.UserPassword("postgres", c.StoreServiceKey)
	} else if _, hasPassword := u.User.Password(); !hasPassword {
		u.User = url.UserPassword(u.User.Username(), c.StoreServiceKey)
	}
	return u.String(), nil
}
