package config

import (
	"errors"
	"fmt"
	"os"
)

var ErrUsage = errors.New("config type and source are required")

// LoadConfig reads the configuration from a local file or from an AWS secret. Empty arguments fall
// back to the CONFIG_TYPE and CONFIG_FILE_PATH environment variables.
func LoadConfig(configType, configPath, awsRegion, awsSecretKey string) (*Config, error) {
	if configType == "" {
		configType = os.Getenv(EnvVarConfigType)
	}
	if configType == "" {
		configType = LocalConfig
	}
	switch configType {
	case AWSConfig:
		if awsSecretKey == "" || awsRegion == "" {
			return nil, ErrUsage
		}
		content, err := GetSecret(awsSecretKey, awsRegion)
		if err != nil {
			return nil, fmt.Errorf("get aws config: %w", err)
		}
		return ParseConfigFromJson(content), nil
	case LocalConfig:
		if configPath == "" {
			configPath = os.Getenv(EnvVarConfigFilePath)
		}
		if configPath == "" {
			return nil, ErrUsage
		}
		return ParseConfigFromFile(configPath), nil
	default:
		return nil, ErrUsage
	}
}
