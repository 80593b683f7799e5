package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/renegade-fi/fee-sweeper/cache"
	"github.com/renegade-fi/fee-sweeper/config"
	"github.com/renegade-fi/fee-sweeper/db"
	"github.com/renegade-fi/fee-sweeper/external"
	"github.com/renegade-fi/fee-sweeper/logging"
	"github.com/renegade-fi/fee-sweeper/metrics"
	"github.com/renegade-fi/fee-sweeper/restapi"
	"github.com/renegade-fi/fee-sweeper/secret"
	"github.com/renegade-fi/fee-sweeper/service"
	"github.com/renegade-fi/fee-sweeper/sweeper"
)

func initFlags() {
	flag.String(config.FlagConfigPath, "", "config file path")
	flag.String(config.FlagConfigType, "", "config type, local or aws")
	flag.String(config.FlagConfigAwsRegion, "", "aws region")
	flag.String(config.FlagConfigAwsSecretKey, "", "aws secret key")
	flag.String(config.FlagConfigPrivateKey, "", "fee-sweeper signing key")
	flag.String(config.FlagConfigDbPass, "", "fee-sweeper db password")

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()
	err := viper.BindPFlags(pflag.CommandLine)
	if err != nil {
		panic(err)
	}
}

func printUsage() {
	fmt.Print("usage: ./fee-sweeper --config-type local --config-path configFile\n")
	fmt.Print("usage: ./fee-sweeper --config-type aws --aws-region awsRegion --aws-secret-key awsSecretKey\n")
}

func main() {
	// .env is optional
	_ = godotenv.Load()
	initFlags()

	cfg, err := config.LoadConfig(
		viper.GetString(config.FlagConfigType),
		viper.GetString(config.FlagConfigPath),
		viper.GetString(config.FlagConfigAwsRegion),
		viper.GetString(config.FlagConfigAwsSecretKey),
	)
	if err != nil {
		if errors.Is(err, config.ErrUsage) {
			printUsage()
			return
		}
		fmt.Printf("load config error, err=%s\n", err.Error())
		return
	}
	if key := viper.GetString(config.FlagConfigPrivateKey); key != "" {
		cfg.SignerConfig.PrivateKey = key
	}
	cfg.Validate()
	logging.InitLogger(&cfg.LogConfig)

	ledger := config.InitDBWithConfig(&cfg.DBConfig, viper.GetString(config.FlagConfigDbPass))
	db.AutoMigrateDB(ledger)
	feeDB := db.NewFeeSvcDB(ledger)

	store, keyID, err := secret.NewStoreFromConfig(&cfg.SignerConfig, os.Getenv(config.EnvVarPrivateKey))
	if err != nil {
		panic(err)
	}
	gateway, err := external.DialEthGateway(&cfg.ChainConfig, store, keyID, cfg.CacheConfig.GetCacheSize())
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsConfig.Enable {
		metrics.NewMetrics(cfg.MetricsConfig.GetHttpAddress()).Start()
	}
	if cfg.ServerConfig.Enable {
		cacheSvc, err := cache.NewLocalCache(cfg.CacheConfig.GetCacheSize())
		if err != nil {
			panic(err)
		}
		handler := restapi.NewHandler(service.NewFeeService(feeDB, cacheSvc))
		go func() {
			if err := restapi.Serve(ctx, cfg.ServerConfig.GetHttpAddress(), handler); err != nil {
				logging.Logger.Errorf("admin api stopped, err=%s", err.Error())
				stop()
			}
		}()
	}

	fs := sweeper.NewFeeSweeper(feeDB, gateway, cfg.SweeperConfig)
	fs.StartLoop(ctx)
	<-ctx.Done()
	logging.Logger.Infof("fee sweeper %s shutting down", fs.Owner())
}
