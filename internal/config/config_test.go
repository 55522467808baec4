package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/secwatch/account-security/internal/domain/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Detection.BruteForce.Window)
	assert.Equal(t, 3, cfg.Detection.BruteForce.Threshold)
	assert.Equal(t, 10, cfg.Detection.Burst.MaxActions)
	assert.Equal(t, 10, cfg.Detection.WrongPasswordDelta)
	assert.Equal(t, risk.DefaultBands(), cfg.Risk.Bands)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9090"
database:
  driver: memory
cache:
  backend: none
detection:
  brute_force:
    window: 2m
    threshold: 5
risk:
  bands:
    - min_score: 40
      severity: elevated
    - min_score: 80
      severity: severe
logging:
  level: debug
  development: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Detection.BruteForce.Window)
	assert.Equal(t, 5, cfg.Detection.BruteForce.Threshold)
	assert.Equal(t, 30, cfg.Detection.BruteForce.RiskDelta, "unset keys keep defaults")
	assert.Equal(t, []risk.Band{{MinScore: 40, Severity: "elevated"}, {MinScore: 80, Severity: "severe"}}, cfg.Risk.Bands)
	assert.True(t, cfg.Logging.Development)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "model:\n  path: /from/file.json\n")
	t.Setenv("MODEL_PATH", "/from/env.json")
	t.Setenv("ADMIN_TOKEN", "s3cret")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("AUTH_HOOK_TOKEN", "hook-s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/from/env.json", cfg.Model.Path)
	assert.Equal(t, "s3cret", cfg.Admin.Token)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "hook-s3cret", cfg.AuthHook.Token)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "http: [not, a, map]"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"Unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }},
		{"Postgres without URL", func(c *Config) { c.Database.URL = "" }},
		{"Redis without address", func(c *Config) { c.Cache.Backend = "redis" }},
		{"Zero cache TTL", func(c *Config) { c.Cache.TTL = 0 }},
		{"Empty model path", func(c *Config) { c.Model.Path = "" }},
		{"Negative delta", func(c *Config) { c.Detection.WrongPasswordDelta = -1 }},
		{"Zero window", func(c *Config) { c.Detection.Burst.Window = 0 }},
		{"Zero threshold", func(c *Config) { c.Detection.BruteForce.Threshold = 0 }},
		{"No alert bands", func(c *Config) { c.Risk.Bands = nil }},
		{"Rate limit without rate", func(c *Config) { c.RateLimit.ScansPerSecond = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
