package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/asafsemo/semo/internal/runtime/logging"
)

// DotEnvFile is merged below real environment variables outside production.
const DotEnvFile = ".env"

var defaults = map[string]any{
	"app_name":                  "semo",
	"node_env":                  "development",
	"logger_level":              "info",
	"logger_json":               true,
	"logger_traceinfo_enable":   true,
	"logger_extradata_length":   logging.DefaultMaxExtraDataLength,
	"logger_output":             "stdout",
	"http_server_address":       "127.0.0.1",
	"http_server_port":          8080,
	"http_server_urlprefix":     "",
	"http_request_timeout":      "30s",
	"http_extra_headers":        "",
	"http_cors_allowed_origins": []string{},
	"shutdown_timeout":          "3s",
	"control_bus_enabled":       true,
	"control_bus_system":        "channel",
	"control_bus_topic":         "semo.control",
	"kafka_brokers":             []string{},
	"kafka_consumer_group":      "semo",
	"rabbitmq_url":              "",
	"nats_url":                  "",
	"metrics_enabled":           true,
	"telemetry_enabled":         false,
	"telemetry_endpoint":        "localhost:4317",
	"telemetry_insecure":        true,
	"telemetry_sample_rate":     1.0,
}

// Default returns the built-in configuration, ignoring the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("semo: invalid built-in config defaults: %v", err))
	}
	return cfg
}

// Load resolves configuration with precedence (highest first): environment
// variables, the .env file (outside production), the optional config file at
// path, built-in defaults. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := readConfigFile(v, false); err != nil {
			return nil, err
		}
	}

	if !strings.EqualFold(v.GetString("node_env"), EnvironmentProduction) {
		if err := mergeDotEnv(v, DotEnvFile); err != nil {
			return nil, err
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func mergeDotEnv(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("env")
	return readConfigFile(v, true)
}

// readConfigFile tolerates a missing file.
func readConfigFile(v *viper.Viper, merge bool) error {
	read := v.ReadInConfig
	if merge {
		read = v.MergeInConfig
	}
	if err := read(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}
