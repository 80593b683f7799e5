package main

import (
	"errors"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/renegade-fi/fee-sweeper/config"
	"github.com/renegade-fi/fee-sweeper/db"
)

var cliOpts = struct {
	ConfigType   string `long:"config-type" description:"Config type" choice:"local" choice:"aws" default:"local"`
	ConfigPath   string `short:"c" long:"config-path" description:"Config path" env:"CONFIG_FILE_PATH"`
	AwsRegion    string `long:"aws-region" description:"AWS region of the config secret"`
	AwsSecretKey string `long:"aws-secret-key" description:"AWS secret holding the config"`
	DbPass       string `long:"db-pass" description:"DB password" env:"DB_PASSWORD"`
}{}

func openFeeDB() (db.FeeDao, error) {
	cfg, err := config.LoadConfig(cliOpts.ConfigType, cliOpts.ConfigPath, cliOpts.AwsRegion, cliOpts.AwsSecretKey)
	if err != nil {
		return nil, err
	}
	cfg.DBConfig.Validate()
	return db.NewFeeSvcDB(config.InitDBWithConfig(&cfg.DBConfig, cliOpts.DbPass)), nil
}

func newParser() *flags.Parser {
	parser := flags.NewParser(&cliOpts, flags.Default)
	mustAddCommand(parser, "list", "List fees", "List fees by ascending id, optionally filtered by status.", &listCommand{})
	mustAddCommand(parser, "show", "Show a fee", "Show one fee as JSON. The blinder is never printed.", &showCommand{})
	mustAddCommand(parser, "requeue", "Requeue a failed fee", "Move a failed fee back to pending.", &requeueCommand{})
	mustAddCommand(parser, "stats", "Count fees by status", "Count fees by status.", &statsCommand{})
	mustAddCommand(parser, "insert", "Insert a fee", "Record a fee note observed on chain as pending.", &insertCommand{})
	return parser
}

func mustAddCommand(parser *flags.Parser, name, short, long string, data interface{}) {
	if _, err := parser.AddCommand(name, short, long, data); err != nil {
		panic(err)
	}
}

func main() {
	_ = godotenv.Load()
	if _, err := newParser().Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
