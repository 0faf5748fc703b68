package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timeclock/attendance"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "timeclock.db", cfg.Server.DBPath)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, uint(3), cfg.Store.RetryAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Admin.SessionTTL)
	assert.Empty(t, cfg.Admin.IDs)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	assert.Equal(t, attendance.ModeStrict, rules.Mode)
	assert.Equal(t, 23*time.Hour+59*time.Minute, rules.EndOfDay)
	assert.Equal(t, 30*time.Minute, rules.DefaultLunch)
	assert.Equal(t, 8*time.Hour, rules.FullDay)
	assert.True(t, decimal.NewFromInt(100).Equal(rules.DefaultRate))

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"TIMECLOCK_MODE":         "repair",
		"TIMECLOCK_DEFAULT_RATE": "87.5",
		"TIMECLOCK_END_OF_DAY":   "22:00",
		"TIMECLOCK_TIMEZONE":     "UTC",
		"TIMECLOCK_ADMIN_IDS":    "U1,U2",
		"TIMECLOCK_LOG_LEVEL":    "debug",
	}))
	require.NoError(t, err)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	assert.Equal(t, attendance.ModeRepair, rules.Mode)
	assert.Equal(t, 22*time.Hour, rules.EndOfDay)
	assert.Equal(t, time.UTC, rules.Location)
	assert.True(t, decimal.RequireFromString("87.5").Equal(rules.DefaultRate))
	assert.Equal(t, []string{"U1", "U2"}, cfg.Admin.IDs)

	level, _ := cfg.Level()
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"mode", map[string]string{"TIMECLOCK_MODE": "lenient"}},
		{"rate", map[string]string{"TIMECLOCK_DEFAULT_RATE": "-1"}},
		{"end of day", map[string]string{"TIMECLOCK_END_OF_DAY": "midnight"}},
		{"timezone", map[string]string{"TIMECLOCK_TIMEZONE": "Mars/Olympus"}},
		{"full day", map[string]string{"TIMECLOCK_FULL_DAY": "0s"}},
		{"retry attempts", map[string]string{"TIMECLOCK_RETRY_ATTEMPTS": "0"}},
		{"log level", map[string]string{"TIMECLOCK_LOG_LEVEL": "loud"}},
		{"duration", map[string]string{"TIMECLOCK_SESSION_TTL": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(context.Background(), envconfig.MapLookuper(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoad_DotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TIMECLOCK_DB_PATH=from-dotenv.db\n"), 0o600))
	t.Setenv("TIMECLOCK_DB_PATH", "")
	os.Unsetenv("TIMECLOCK_DB_PATH")

	cfg, err := Load(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, "from-dotenv.db", cfg.Server.DBPath)
}

func TestLoad_MissingDotenvIgnored(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}
