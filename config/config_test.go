package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestFromFile_DefaultTimeframePerPlatform(t *testing.T) {
	t.Run("binance", func(t *testing.T) {
		cfg, err := FromFile(writeConfig(t, "platform: binance\nassets: [BTC]\n"))
		require.NoError(t, err)
		assert.Equal(t, "1h", cfg.Timeframe, "binance uses its native hourly code")
	})

	t.Run("bybit", func(t *testing.T) {
		cfg, err := FromFile(writeConfig(t, "platform: bybit\nassets: [BTC]\n"))
		require.NoError(t, err)
		assert.Equal(t, "60", cfg.Timeframe, "bybit intervals are minutes as strings")
	})

	t.Run("explicit value wins", func(t *testing.T) {
		cfg, err := FromFile(writeConfig(t, "platform: binance\nassets: [BTC]\ntimeframe: 4h\n"))
		require.NoError(t, err)
		assert.Equal(t, "4h", cfg.Timeframe)
	})
}

func TestFromFile_RejectsUnknownPlatform(t *testing.T) {
	_, err := FromFile(writeConfig(t, "platform: kraken\nassets: [BTC]\n"))
	assert.Error(t, err)
}

func TestFromFile_ExpandsSecretEnvReference(t *testing.T) {
	t.Setenv("TEST_ORACLE_KEY", "sk-secret")
	cfg, err := FromFile(writeConfig(t, "platform: binance\nassets: [BTC]\noracle_api_key: ${TEST_ORACLE_KEY}\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", cfg.OracleAPIKey)
}
