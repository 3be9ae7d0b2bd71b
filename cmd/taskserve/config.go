package main

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/loykin/taskserve/internal/common"
	"github.com/loykin/taskserve/internal/kv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Hostname       string        `mapstructure:"hostname" yaml:"hostname"`
	Port           int           `mapstructure:"port" yaml:"port"`
	SessionTimeout time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
}

// ExecutionConfig mirrors the execution flags. Secrets and params are lists
// of KEY=VALUE entries, the same syntax the flags take.
type ExecutionConfig struct {
	ParseBody   bool   `mapstructure:"parse_body" yaml:"parse_body"`
	MergeBody   bool   `mapstructure:"merge_body" yaml:"merge_body"`
	StorageFile string `mapstructure:"storage_file" yaml:"storage_file"`
	SecretsFile string `mapstructure:"secrets_file" yaml:"secrets_file"`
	Secrets     kv.Map `mapstructure:"secrets" yaml:"secrets"`
	Params      kv.Map `mapstructure:"params" yaml:"params"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level" yaml:"level"`                   // error, warn, info, debug
	Format        string `mapstructure:"format" yaml:"format"`                 // text, json
	MaskSensitive bool   `mapstructure:"mask_sensitive" yaml:"mask_sensitive"` // enable/disable sensitive data masking
}

type ConfigDoc struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Execution ExecutionConfig `mapstructure:"execution" yaml:"execution"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// loadConfig merges the optional config file into v and decodes the result.
// Viper's precedence applies: changed flags, then environment, then the
// file, then defaults.
func loadConfig(v *viper.Viper) (*ConfigDoc, error) {
	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("config %s: not a regular file", path)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var doc ConfigDoc
	err := v.Unmarshal(&doc, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		kvListHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &doc, nil
}

var kvMapType = reflect.TypeOf(kv.Map{})

// kvListHook decodes a list of KEY=VALUE entries into a kv.Map. Maps are
// rejected because viper folds their keys to lower case.
func kvListHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != kvMapType {
			return data, nil
		}
		switch v := data.(type) {
		case nil:
			return kv.Map{}, nil
		case []string:
			return kv.Normalize(v), nil
		case []any:
			entries := make([]string, 0, len(v))
			for _, e := range v {
				entries = append(entries, fmt.Sprint(e))
			}
			return kv.Normalize(entries), nil
		case string:
			if strings.TrimSpace(v) == "" {
				return kv.Map{}, nil
			}
			return kv.Normalize([]string{v}), nil
		case map[string]any:
			if len(v) == 0 {
				return kv.Map{}, nil
			}
			return nil, errors.New("expected a list of KEY=VALUE entries, got a map")
		}
		return data, nil
	}
}

// SetupLogging builds the process logger from the logging section.
func (c *ConfigDoc) SetupLogging() (*common.Logger, error) {
	level, ok := common.ParseLogLevel(c.Logging.Level)
	if !ok {
		return nil, fmt.Errorf("invalid logging level: %s (valid: error, warn, info, debug)", c.Logging.Level)
	}

	var logger *common.Logger
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "json":
		logger = common.NewJSONLogger(level)
	case "text", "":
		logger = common.NewLogger(level)
	default:
		return nil, fmt.Errorf("invalid logging format: %s (valid: text, json)", c.Logging.Format)
	}

	common.EnableMasking(c.Logging.MaskSensitive)
	common.SetDefaultLogger(logger)
	return logger, nil
}
