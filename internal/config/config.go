package config

import (
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "jwt-secret", "password",
}

type Config struct {
	Port                      int           `env:"PORT" envDefault:"5000"`
	AppEnv                    string        `env:"APP_ENV" envDefault:"development"`
	DatabaseURL               string        `env:"DATABASE_URL,required"`
	RedisURL                  string        `env:"REDIS_URL"`
	JWTSecret                 string        `env:"JWT_SECRET,required"`
	JWTExpiresIn              time.Duration `env:"JWT_EXPIRES_IN" envDefault:"168h"`
	FrontendURL               string        `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
	LogLevel                  string        `env:"LOG_LEVEL" envDefault:"info"`
	MigrateOnStart            bool          `env:"MIGRATE_ON_START" envDefault:"true"`
	RateLimitMax              int           `env:"RATE_LIMIT_MAX" envDefault:"100"`
	RateLimitWindow           time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"15m"`
	BcryptCost                int           `env:"BCRYPT_COST" envDefault:"10"`
	PasswordHashConcurrency   int           `env:"PASSWORD_HASH_CONCURRENCY" envDefault:"0"`
	NotificationRetentionDays int           `env:"NOTIFICATION_RETENTION_DAYS" envDefault:"90"`
	SocketEventsPerSecond     float64       `env:"SOCKET_EVENTS_PER_SECOND" envDefault:"10"`
	SocketEventBurst          int           `env:"SOCKET_EVENT_BURST" envDefault:"20"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// HashConcurrency is the number of bcrypt operations allowed to run at once.
func (c *Config) HashConcurrency() int {
	if c.PasswordHashConcurrency > 0 {
		return c.PasswordHashConcurrency
	}
	return runtime.NumCPU()
}

// NotificationRetention returns 0 when pruning is disabled.
func (c *Config) NotificationRetention() time.Duration {
	if c.NotificationRetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.NotificationRetentionDays) * 24 * time.Hour
}

func (c *Config) Validate() error {
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost)
	}
	if c.JWTExpiresIn <= 0 {
		return fmt.Errorf("JWT_EXPIRES_IN must be positive")
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}

	if c.IsProduction() {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
		if c.RedisURL == "" {
			log.Warn().Msg("REDIS_URL is empty in production: realtime events will not reach connections on other instances")
		} else if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

// Load reads an optional .env file and then parses the environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
