package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 80, cfg.TradingConfig.EntryThreshold)
	assert.Equal(t, 10, cfg.TradingConfig.MaxDailyTrades)
	assert.Equal(t, 3, cfg.TradingConfig.MaxOpenPositions)
	assert.False(t, cfg.TradingConfig.Enabled, "trading must start disabled")
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"trading":{"max_daily_trades":4,"target_usd":0.5}}`), 0600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TRADING_MAX_OPEN_POSITIONS", "2")
	t.Setenv("TELEGRAM_SOURCE_CHAT_IDS", "-100123, 42")
	t.Setenv("TRADING_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.TradingConfig.MaxDailyTrades)
	assert.Equal(t, 0.5, cfg.TradingConfig.TargetUSD)
	assert.Equal(t, 2, cfg.TradingConfig.MaxOpenPositions)
	assert.Equal(t, []int64{-100123, 42}, cfg.TelegramConfig.SourceChatIDs)
	assert.True(t, cfg.TradingConfig.Enabled)
	// untouched defaults survive the file overlay
	assert.Equal(t, 15, cfg.TradingConfig.MaxLeverage)
}

func TestLoadRejectsBrokenJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"trading":`), 0600))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above cap", func(c *Config) { c.TradingConfig.EntryThreshold = 96 }},
		{"near miss above entry", func(c *Config) { c.TradingConfig.NearMissFloor = 85 }},
		{"zero target", func(c *Config) { c.TradingConfig.TargetUSD = 0 }},
		{"zero leverage", func(c *Config) { c.TradingConfig.MaxLeverage = 0 }},
		{"zero stop", func(c *Config) { c.TradingConfig.StopLossUSD = 0 }},
		{"no timeout", func(c *Config) { c.PipelineConfig.CallTimeoutSeconds = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGenerateSampleConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")
	require.NoError(t, GenerateSampleConfig(path))

	cfg := Default()
	require.NoError(t, loadFromFile(path, cfg))
	assert.True(t, cfg.BinanceConfig.TestNet)
	assert.Equal(t, []int64{-1001234567890}, cfg.TelegramConfig.SourceChatIDs)
}
