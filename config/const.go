package config

const (
	FlagConfigPath         = "config-path"
	FlagConfigType         = "config-type"
	FlagConfigAwsRegion    = "aws-region"
	FlagConfigAwsSecretKey = "aws-secret-key"
	FlagConfigPrivateKey   = "private-key"
	FlagConfigDbPass       = "db-pass"

	AWSConfig   = "aws"
	LocalConfig = "local"

	DBDialectMysql    = "mysql"
	DBDialectPostgres = "postgres"
	DBDialectSqlite3  = "sqlite3"

	KeyTypeLocalPrivateKey = "local_private_key"
	KeyTypeAWSPrivateKey   = "aws_private_key"

	EnvVarConfigType     = "CONFIG_TYPE"
	EnvVarConfigFilePath = "CONFIG_FILE_PATH"
	EnvVarDBUserName     = "DB_USERNAME"
	EnvVarDBUserPass     = "DB_PASSWORD"
	EnvVarPrivateKey     = "PRIVATE_KEY"

	DefaultMaxAttempts       = 5
	DefaultBaseBackoffMs     = 1000
	DefaultMaxBackoffMs      = 60000
	DefaultBatchSize         = 50
	DefaultWorkers           = 4
	DefaultScanIntervalMs    = 5000
	DefaultConfirmIntervalMs = 3000
	DefaultRPCTimeoutMs      = 20000
	DefaultLeaseMs           = 120000
	LeaseMarginMs            = 10000 // LeaseMarginMs covers the store round trips around the chain calls of an attempt
	DefaultGasLimit          = 500000
	DefaultConfirmations     = 1
	DefaultSecretCacheTTL    = 300

	DefaultMetricsAddress = "0.0.0.0:9090"
	DefaultServerAddress  = "0.0.0.0:8080"
)
