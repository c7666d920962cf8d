package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Engine.SignificanceThreshold)
	assert.Equal(t, "transaction-validated", cfg.Bus.InboundStream)
	assert.Equal(t, int64(5), cfg.Bus.MaxDeliveries)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
log_level: debug
server:
  port: 9000
  read_timeout: 5s
engine:
  significance_threshold: 15
  weights:
    transaction: 0.4
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("RISK_SERVER__PORT", "9100")
	t.Setenv("RISK_ENGINE__CALL_TIMEOUT", "750ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9100, cfg.Server.Port, "environment wins over the file")
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15, cfg.Engine.SignificanceThreshold)
	assert.Equal(t, 750*time.Millisecond, cfg.Engine.CallTimeout)
	assert.InDelta(t, 0.4, cfg.Engine.Weights["transaction"], 1e-9)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"postgres without url", func(c *Config) { c.Storage.Driver = DriverPostgres }, true},
		{"postgres with url", func(c *Config) {
			c.Storage.Driver = DriverPostgres
			c.Database.URL = "postgres://localhost/risk"
		}, false},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, true},
		{"bus without redis", func(c *Config) { c.Bus.Enabled = true }, true},
		{"negative weight", func(c *Config) { c.Engine.Weights = map[string]float64{"merchant": -1} }, true},
		{"zero call timeout", func(c *Config) { c.Engine.CallTimeout = 0 }, true},
		{"zero significance threshold", func(c *Config) { c.Engine.SignificanceThreshold = 0 }, false},
		{"negative significance threshold", func(c *Config) { c.Engine.SignificanceThreshold = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
