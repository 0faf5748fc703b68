// Package config loads the timeclock configuration from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"github.com/shopspring/decimal"

	"github.com/warp/timeclock/attendance"
)

type Server struct {
	ListenAddr  string   `env:"LISTEN_ADDR, default=:8080"`
	DBPath      string   `env:"DB_PATH, default=timeclock.db"`
	LogLevel    string   `env:"LOG_LEVEL, default=info"`
	CORSOrigins []string `env:"CORS_ORIGINS, default=*"`
}

type Engine struct {
	// Mode is "strict" or "repair".
	Mode         string        `env:"MODE, default=strict"`
	DefaultRate  string        `env:"DEFAULT_RATE, default=100"`
	DefaultLunch time.Duration `env:"DEFAULT_LUNCH, default=30m"`
	FullDay      time.Duration `env:"FULL_DAY, default=8h"`
	// EndOfDay closes shifts left open on a previous day, as HH:MM.
	EndOfDay string `env:"END_OF_DAY, default=23:59"`
	Timezone string `env:"TIMEZONE, default=Local"`
}

type Admin struct {
	IDs        []string      `env:"ADMIN_IDS"`
	SessionTTL time.Duration `env:"SESSION_TTL, default=10m"`
}

type Store struct {
	RetryAttempts uint          `env:"RETRY_ATTEMPTS, default=3"`
	RetryDelay    time.Duration `env:"RETRY_DELAY, default=100ms"`
}

type Integrations struct {
	// RedisURL enables the Redis session store when set.
	RedisURL string `env:"REDIS_URL"`
	// SlackToken enables Slack notifications when set.
	SlackToken      string        `env:"SLACK_TOKEN"`
	MonitorInterval time.Duration `env:"MONITOR_INTERVAL, default=1h"`
}

type Config struct {
	Server       Server       `env:",prefix=TIMECLOCK_"`
	Engine       Engine       `env:",prefix=TIMECLOCK_"`
	Admin        Admin        `env:",prefix=TIMECLOCK_"`
	Store        Store        `env:",prefix=TIMECLOCK_"`
	Integrations Integrations `env:",prefix=TIMECLOCK_"`
}

// Load reads an optional .env file (or the given files) into the process
// environment and then processes TIMECLOCK_* variables.
func Load(ctx context.Context, dotenv ...string) (*Config, error) {
	if err := godotenv.Load(dotenv...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom processes variables from l and validates the result.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every value that cannot be expressed as an env tag.
func (c *Config) Validate() error {
	_, err := c.Rules()
	if err != nil {
		return err
	}
	if c.Store.RetryAttempts == 0 {
		return errors.New("TIMECLOCK_RETRY_ATTEMPTS must be at least 1")
	}
	if c.Admin.SessionTTL <= 0 {
		return errors.New("TIMECLOCK_SESSION_TTL must be positive")
	}
	if c.Integrations.MonitorInterval <= 0 {
		return errors.New("TIMECLOCK_MONITOR_INTERVAL must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Rules converts the engine section into attendance rules.
func (c *Config) Rules() (attendance.Rules, error) {
	mode, err := attendance.ParseMode(c.Engine.Mode)
	if err != nil {
		return attendance.Rules{}, fmt.Errorf("TIMECLOCK_MODE: %w", err)
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(c.Engine.DefaultRate))
	if err != nil || rate.IsNegative() {
		return attendance.Rules{}, fmt.Errorf("TIMECLOCK_DEFAULT_RATE: invalid rate %q", c.Engine.DefaultRate)
	}
	endOfDay, err := attendance.ParseClock(c.Engine.EndOfDay)
	if err != nil {
		return attendance.Rules{}, fmt.Errorf("TIMECLOCK_END_OF_DAY: %w", err)
	}
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return attendance.Rules{}, fmt.Errorf("TIMECLOCK_TIMEZONE: %w", err)
	}
	if c.Engine.DefaultLunch < 0 {
		return attendance.Rules{}, errors.New("TIMECLOCK_DEFAULT_LUNCH cannot be negative")
	}
	if c.Engine.FullDay <= 0 {
		return attendance.Rules{}, errors.New("TIMECLOCK_FULL_DAY must be positive")
	}
	return attendance.Rules{
		Mode:         mode,
		Location:     loc,
		EndOfDay:     endOfDay,
		DefaultLunch: c.Engine.DefaultLunch,
		FullDay:      c.Engine.FullDay,
		DefaultRate:  rate,
	}, nil
}

// Level parses the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Server.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("TIMECLOCK_LOG_LEVEL: %w", err)
	}
	return level, nil
}
