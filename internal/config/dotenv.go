package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	Port        string `env:"PORT" env-default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" env-default:"true"`
	AdminToken  string `env:"ADMIN_TOKEN"`

	AllowWaitlist     bool `env:"ALLOW_WAITLIST" env-default:"true"`
	RequireEmail      bool `env:"REQUIRE_EMAIL" env-default:"false"`
	SingleVotePerPoll bool `env:"SINGLE_VOTE_PER_POLL" env-default:"false"`

	DefaultMinParticipants int `env:"DEFAULT_MIN_PARTICIPANTS" env-default:"2"`
	DefaultMaxParticipants int `env:"DEFAULT_MAX_PARTICIPANTS" env-default:"4"`
	DefaultDurationMinutes int `env:"DEFAULT_DURATION_MINUTES" env-default:"120"`

	TxMaxAttempts         int `env:"TX_MAX_ATTEMPTS" env-default:"5"`
	TxRetryBackoffMillis  int `env:"TX_RETRY_BACKOFF_MS" env-default:"20"`
	RequestTimeoutSeconds int `env:"REQUEST_TIMEOUT_SECONDS" env-default:"10"`
	NotifyTimeoutSeconds  int `env:"NOTIFY_TIMEOUT_SECONDS" env-default:"5"`

	DBMaxOpenConns           int `env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	DBMaxIdleConns           int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DBConnMaxLifetimeSeconds int `env:"DB_CONN_MAX_LIFETIME_SECONDS" env-default:"300"`
	DBConnMaxIdleTimeSeconds int `env:"DB_CONN_MAX_IDLE_SECONDS" env-default:"60"`

	MattermostURL       string `env:"MM_URL"`
	MattermostToken     string `env:"MM_TOKEN"`
	MattermostChannelID string `env:"MM_CHANNEL_ID"`
}

// Default mirrors the env-default tags so tests do not depend on the environment.
func Default() Config {
	return Config{
		Port:                     "8080",
		LogLevel:                 "info",
		AutoMigrate:              true,
		AllowWaitlist:            true,
		DefaultMinParticipants:   2,
		DefaultMaxParticipants:   4,
		DefaultDurationMinutes:   120,
		TxMaxAttempts:            5,
		TxRetryBackoffMillis:     20,
		RequestTimeoutSeconds:    10,
		NotifyTimeoutSeconds:     5,
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           10,
		DBConnMaxLifetimeSeconds: 300,
		DBConnMaxIdleTimeSeconds: 60,
	}
}

func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.TxMaxAttempts <= 0 {
		cfg.TxMaxAttempts = 1
	}
	return cfg, nil
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutSeconds) * time.Second
}

func (c Config) TxRetryBackoff() time.Duration {
	return time.Duration(c.TxRetryBackoffMillis) * time.Millisecond
}

func (c Config) MattermostEnabled() bool {
	return c.MattermostURL != "" && c.MattermostToken != "" && c.MattermostChannelID != ""
}
