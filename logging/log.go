package logging

import (
	"os"

	"github.com/op/go-logging"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/renegade-fi/fee-sweeper/config"
)

var (
	// Logger instance for quick declarative logging levels
	Logger = logging.MustGetLogger("fee-sweeper")
	// log levels that are available
	levels = map[string]logging.Level{
		"CRITICAL": logging.CRITICAL,
		"ERROR":    logging.ERROR,
		"WARNING":  logging.WARNING,
		"NOTICE":   logging.NOTICE,
		"INFO":     logging.INFO,
		"DEBUG":    logging.DEBUG,
	}
)

// InitLogger installs the console and/or rotating file backends described by cfg.
func InitLogger(cfg *config.LogConfig) {
	var backends []logging.Backend
	format := logging.MustStringFormatter(
		`%{time:2006-01-02 15:04:05.000} %{shortfile} %{level:.4s} %{message}`,
	)

	level, ok := levels[cfg.Level]
	if !ok {
		level = logging.INFO
	}

	if cfg.UseConsoleLogger {
		consoleBackend := logging.NewLogBackend(os.Stdout, "", 0)
		consoleFormatter := logging.NewBackendFormatter(consoleBackend, format)
		leveled := logging.AddModuleLevel(consoleFormatter)
		leveled.SetLevel(level, "")
		backends = append(backends, leveled)
	}

	if cfg.UseFileLogger {
		fileLogger := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxFileSizeInMB,
			MaxBackups: cfg.MaxBackupsOfLogFiles,
			MaxAge:     cfg.MaxAgeToRetainLogFilesInDays,
			Compress:   cfg.Compress,
		}
		fileBackend := logging.NewLogBackend(fileLogger, "", 0)
		fileFormatter := logging.NewBackendFormatter(fileBackend, format)
		leveled := logging.AddModuleLevel(fileFormatter)
		leveled.SetLevel(level, "")
		backends = append(backends, leveled)
	}

	if len(backends) == 0 {
		return
	}
	logging.SetBackend(backends...)
}
