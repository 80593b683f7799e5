package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
  "db_config": {"dialect": "sqlite3", "url": "fees.db", "max_idle_conns": 1, "max_open_conns": 1},
  "chain_config": {"rpc_addrs": ["http://localhost:8545"], "chain_id": 42161, "darkpool_address": "0x30bD8eAb29181F790D7e495786d4B96d7AfDC518", "max_gas_price_gwei": 3},
  "signer_config": {"key_type": "local_private_key", "private_key": "0x01"},
  "sweeper_config": {"max_attempts": 3, "serialize_per_mint": true}
}`

func TestParseAndDefaults(t *testing.T) {
	cfg := ParseConfigFromJson(sampleConfig)
	require.NotPanics(t, cfg.Validate)

	sc := cfg.SweeperConfig.WithDefaults()
	require.Equal(t, 3, sc.MaxAttempts)
	require.True(t, sc.SerializePerMint)
	require.Equal(t, int64(DefaultBaseBackoffMs), sc.BaseBackoffMs)
	require.Equal(t, DefaultWorkers, sc.Workers)
	require.Equal(t, 0, cfg.SweeperConfig.Workers)

	require.Equal(t, uint64(DefaultGasLimit), cfg.ChainConfig.GetGasLimit())
	require.Equal(t, uint64(DefaultConfirmations), cfg.ChainConfig.GetConfirmations())
	require.Equal(t, "3000000000", cfg.ChainConfig.GetMaxGasPrice().String())
	require.Equal(t, DefaultServerAddress, cfg.ServerConfig.GetHttpAddress())
}

func TestValidatePanics(t *testing.T) {
	cfg := ParseConfigFromJson(sampleConfig)
	cfg.SweeperConfig.BaseBackoffMs = 10
	cfg.SweeperConfig.MaxBackoffMs = 5
	require.Panics(t, cfg.Validate)

	cfg = ParseConfigFromJson(sampleConfig)
	cfg.ChainConfig.DarkpoolAddress = "darkpool"
	require.Panics(t, cfg.Validate)

	cfg = ParseConfigFromJson(sampleConfig)
	cfg.DBConfig.Dialect = "oracle"
	require.Panics(t, cfg.Validate)

	cfg = ParseConfigFromJson(sampleConfig)
	cfg.SweeperConfig.MinRedeemAmounts = map[string]string{"usdc": "1"}
	require.Panics(t, cfg.Validate)
	cfg.SweeperConfig.MinRedeemAmounts = map[string]string{"0xaf88d065e77c8cC2239327C5EDb3A432268e5831": "-1"}
	require.Panics(t, cfg.Validate)
}

func TestValidateLeaseCoversRPCTimeout(t *testing.T) {
	sc := SweeperConfig{LeaseMs: 1000, RPCTimeoutMs: 20000}
	require.Panics(t, sc.Validate)

	// defaults apply before the comparison
	sc = SweeperConfig{LeaseMs: 15000}
	require.Panics(t, sc.Validate)
	sc = SweeperConfig{RPCTimeoutMs: DefaultLeaseMs}
	require.Panics(t, sc.Validate)

	sc = SweeperConfig{LeaseMs: 30000, RPCTimeoutMs: 20000}
	require.NotPanics(t, sc.Validate)
	sc = SweeperConfig{}
	require.NotPanics(t, sc.Validate)
	require.Zero(t, sc.LeaseMs)
}

func TestMinRedeemAmount(t *testing.T) {
	sc := SweeperConfig{MinRedeemAmounts: map[string]string{"0xaf88d065e77c8cc2239327c5edb3a432268e5831": "2.5"}}
	minAmount, ok := sc.MinRedeemAmount("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")
	require.True(t, ok)
	require.Equal(t, "2.5", minAmount.String())

	_, ok = sc.MinRedeemAmount("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
	require.False(t, ok)
	_, ok = (&SweeperConfig{}).MinRedeemAmount("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
	require.False(t, ok)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(EnvVarConfigType, "")
	t.Setenv(EnvVarConfigFilePath, "")
	_, err := LoadConfig("", "", "", "")
	require.ErrorIs(t, err, ErrUsage)
	_, err = LoadConfig(AWSConfig, "", "us-east-2", "")
	require.ErrorIs(t, err, ErrUsage)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))
	t.Setenv(EnvVarConfigFilePath, path)
	cfg, err := LoadConfig("", "", "", "")
	require.NoError(t, err)
	require.Equal(t, uint64(42161), cfg.ChainConfig.ChainID)
}
