package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/renegade-fi/fee-sweeper/cache"
)

type Config struct {
	LogConfig     LogConfig     `json:"log_config"`
	DBConfig      DBConfig      `json:"db_config"`
	ChainConfig   ChainConfig   `json:"chain_config"`
	SignerConfig  SignerConfig  `json:"signer_config"`
	SweeperConfig SweeperConfig `json:"sweeper_config"`
	CacheConfig   CacheConfig   `json:"cache_config"`
	MetricsConfig MetricsConfig `json:"metrics_config"`
	ServerConfig  ServerConfig  `json:"server_config"`
}

func (c *Config) Validate() {
	c.LogConfig.Validate()
	c.DBConfig.Validate()
	c.ChainConfig.Validate()
	c.SignerConfig.Validate()
	c.SweeperConfig.Validate()
}

type ChainConfig struct {
	RPCAddrs        []string `json:"rpc_addrs"`
	ChainID         uint64   `json:"chain_id"`
	DarkpoolAddress string   `json:"darkpool_address"` // DarkpoolAddress is the contract that holds fee notes and redeems them
	GasLimit        uint64   `json:"gas_limit"`
	Confirmations   uint64   `json:"confirmations"` // Confirmations is the number of blocks on top of a redemption before it counts as confirmed
	MaxGasPriceGwei uint64   `json:"max_gas_price_gwei"`
}

func (cfg *ChainConfig) Validate() {
	if len(cfg.RPCAddrs) == 0 {
		panic("rpc_addrs should not be empty")
	}
	if cfg.ChainID == 0 {
		panic("chain_id should be set")
	}
	if !common.IsHexAddress(cfg.DarkpoolAddress) {
		panic(fmt.Sprintf("darkpool_address %q is not a valid address", cfg.DarkpoolAddress))
	}
}

func (cfg *ChainConfig) GetGasLimit() uint64 {
	if cfg.GasLimit != 0 {
		return cfg.GasLimit
	}
	return DefaultGasLimit
}

func (cfg *ChainConfig) GetConfirmations() uint64 {
	if cfg.Confirmations != 0 {
		return cfg.Confirmations
	}
	return DefaultConfirmations
}

// GetMaxGasPrice returns the gas fee cap in wei, nil means uncapped.
func (cfg *ChainConfig) GetMaxGasPrice() *big.Int {
	if cfg.MaxGasPriceGwei == 0 {
		return nil
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(cfg.MaxGasPriceGwei), big.NewInt(1e9))
}

type SignerConfig struct {
	KeyType         string `json:"key_type"`
	KeyID           string `json:"key_id"`
	PrivateKey      string `json:"private_key"`
	AWSRegion       string `json:"aws_region"`
	AWSSecretName   string `json:"aws_secret_name"`
	CacheTTLSeconds int64  `json:"cache_ttl_seconds"`
}

func (cfg *SignerConfig) Validate() {
	switch cfg.KeyType {
	case KeyTypeLocalPrivateKey:
		if cfg.PrivateKey == "" && os.Getenv(EnvVarPrivateKey) == "" {
			panic("private_key should be set when key_type is local_private_key")
		}
	case KeyTypeAWSPrivateKey:
		if cfg.AWSRegion == "" || cfg.AWSSecretName == "" {
			panic("aws_region and aws_secret_name should be set when key_type is aws_private_key")
		}
	default:
		panic(fmt.Sprintf("only %s and %s supported", KeyTypeLocalPrivateKey, KeyTypeAWSPrivateKey))
	}
}

func (cfg *SignerConfig) GetCacheTTL() time.Duration {
	if cfg.CacheTTLSeconds > 0 {
		return time.Duration(cfg.CacheTTLSeconds) * time.Second
	}
	return DefaultSecretCacheTTL * time.Second
}

type SweeperConfig struct {
	MaxAttempts        int   `json:"max_attempts"`
	BaseBackoffMs      int64 `json:"base_backoff_ms"`
	MaxBackoffMs       int64 `json:"max_backoff_ms"`
	BatchSize          int   `json:"batch_size"`
	Workers            int   `json:"workers"`
	SerializePerMint   bool  `json:"serialize_per_mint"`
	ScanIntervalMs     int64 `json:"scan_interval_ms"`
	ConfirmIntervalMs  int64 `json:"confirm_interval_ms"`
	RPCTimeoutMs       int64 `json:"rpc_timeout_ms"`
	LeaseMs            int64 `json:"lease_ms"`            // LeaseMs bounds how long a worker may hold a fee between RecordAttempt and its next transition
	AutoRequeueAfterMs int64 `json:"auto_requeue_after_ms"` // AutoRequeueAfterMs enables requeueing of RetryExhausted fees when > 0
	MaxAutoRequeues    int   `json:"max_auto_requeues"`
	// MinRedeemAmounts maps a mint to the smallest amount, in token units, worth redeeming. Smaller
	// fees stay pending and are rechecked every max_backoff_ms.
	MinRedeemAmounts map[string]string `json:"min_redeem_amounts"`
}

// WithDefaults fills zero-valued fields.
func (cfg SweeperConfig) WithDefaults() SweeperConfig {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseBackoffMs == 0 {
		cfg.BaseBackoffMs = DefaultBaseBackoffMs
	}
	if cfg.MaxBackoffMs == 0 {
		cfg.MaxBackoffMs = DefaultMaxBackoffMs
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ScanIntervalMs == 0 {
		cfg.ScanIntervalMs = DefaultScanIntervalMs
	}
	if cfg.ConfirmIntervalMs == 0 {
		cfg.ConfirmIntervalMs = DefaultConfirmIntervalMs
	}
	if cfg.RPCTimeoutMs == 0 {
		cfg.RPCTimeoutMs = DefaultRPCTimeoutMs
	}
	if cfg.LeaseMs == 0 {
		cfg.LeaseMs = DefaultLeaseMs
	}
	return cfg
}

func (cfg *SweeperConfig) Validate() {
	eff := cfg.WithDefaults()
	if eff.LeaseMs < eff.RPCTimeoutMs+LeaseMarginMs {
		panic(fmt.Sprintf("lease_ms %d should be at least rpc_timeout_ms %d plus %d", eff.LeaseMs, eff.RPCTimeoutMs, LeaseMarginMs))
	}
	for mint, amount := range cfg.MinRedeemAmounts {
		if !common.IsHexAddress(mint) {
			panic(fmt.Sprintf("min_redeem_amounts key %q is not a valid address", mint))
		}
		d, err := decimal.NewFromString(amount)
		if err != nil || d.IsNegative() {
			panic(fmt.Sprintf("min_redeem_amounts of %s should be a non-negative decimal, got %q", mint, amount))
		}
	}
	if cfg.MaxAttempts < 0 || cfg.BatchSize < 0 || cfg.Workers < 0 || cfg.MaxAutoRequeues < 0 {
		panic("max_attempts, batch_size, workers and max_auto_requeues should not be negative")
	}
	if cfg.BaseBackoffMs < 0 || cfg.MaxBackoffMs < 0 {
		panic("backoff bounds should not be negative")
	}
	if cfg.MaxBackoffMs != 0 && cfg.BaseBackoffMs > cfg.MaxBackoffMs {
		panic("base_backoff_ms should not be larger than max_backoff_ms")
	}
}

// MinRedeemAmount returns the configured minimum for mint, matched case-insensitively.
func (cfg *SweeperConfig) MinRedeemAmount(mint string) (decimal.Decimal, bool) {
	if len(cfg.MinRedeemAmounts) == 0 || !common.IsHexAddress(mint) {
		return decimal.Zero, false
	}
	target := common.HexToAddress(mint)
	for m, amount := range cfg.MinRedeemAmounts {
		if !common.IsHexAddress(m) || common.HexToAddress(m) != target {
			continue
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

type CacheConfig struct {
	CacheSize uint64 `json:"cache_size"`
}

func (c *CacheConfig) GetCacheSize() uint64 {
	if c.CacheSize != 0 {
		return c.CacheSize
	}
	return cache.DefaultCacheSize
}

type MetricsConfig struct {
	Enable      bool   `json:"enable"`
	HttpAddress string `json:"http_address"`
}

func (c *MetricsConfig) GetHttpAddress() string {
	if c.HttpAddress != "" {
		return c.HttpAddress
	}
	return DefaultMetricsAddress
}

type ServerConfig struct {
	Enable      bool   `json:"enable"`
	HttpAddress string `json:"http_address"`
}

func (c *ServerConfig) GetHttpAddress() string {
	if c.HttpAddress != "" {
		return c.HttpAddress
	}
	return DefaultServerAddress
}

type DBConfig struct {
	Dialect       string `json:"dialect"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	Url           string `json:"url"`
	MaxIdleConns  int    `json:"max_idle_conns"`
	MaxOpenConns  int    `json:"max_open_conns"`
	KeyType       string `json:"key_type"`
	AWSRegion     string `json:"aws_region"`
	AWSSecretName string `json:"aws_secret_name"`
}

func (cfg *DBConfig) Validate() {
	if cfg.Dialect != DBDialectMysql && cfg.Dialect != DBDialectPostgres && cfg.Dialect != DBDialectSqlite3 {
		panic(fmt.Sprintf("only %s, %s and %s supported", DBDialectMysql, DBDialectPostgres, DBDialectSqlite3))
	}
	if cfg.Dialect != DBDialectSqlite3 && (cfg.Username == "" || cfg.Url == "") {
		panic("db config is not correct, missing username and/or url")
	}
	if cfg.MaxIdleConns == 0 || cfg.MaxOpenConns == 0 {
		panic("db connections is not correct")
	}
}

type LogConfig struct {
	Level                        string `json:"level"`
	Filename                     string `json:"filename"`
	MaxFileSizeInMB              int    `json:"max_file_size_in_mb"`
	MaxBackupsOfLogFiles         int    `json:"max_backups_of_log_files"`
	MaxAgeToRetainLogFilesInDays int    `json:"max_age_to_retain_log_files_in_days"`
	UseConsoleLogger             bool   `json:"use_console_logger"`
	UseFileLogger                bool   `json:"use_file_logger"`
	Compress                     bool   `json:"compress"`
}

func (cfg *LogConfig) Validate() {
	if cfg.UseFileLogger {
		if cfg.Filename == "" {
			panic("filename should not be empty if use file logger")
		}
		if cfg.MaxFileSizeInMB <= 0 {
			panic("max_file_size_in_mb should be larger than 0 if use file logger")
		}
		if cfg.MaxBackupsOfLogFiles <= 0 {
			panic("max_backups_off_log_files should be larger than 0 if use file logger")
		}
	}
}

func ParseConfigFromJson(content string) *Config {
	var config Config
	if err := json.Unmarshal([]byte(content), &config); err != nil {
		panic(err)
	}
	return &config
}

func ParseConfigFromFile(filePath string) *Config {
	bz, err := os.ReadFile(filePath)
	if err != nil {
		panic(err)
	}

	var config Config
	if err := json.Unmarshal(bz, &config); err != nil {
		panic(err)
	}
	return &config
}
