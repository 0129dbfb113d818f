package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/datim/adx-mediator/internal/errs"
)

// Config holds the process-level settings. Relay behaviour (upstream URLs,
// polling) lives in RelayConfig and may change at runtime.
type Config struct {
	ServerPort             int    `mapstructure:"server_port"`
	ShutdownDrainSeconds   int    `mapstructure:"shutdown_drain_seconds"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	MaxRequestSizeMB       int    `mapstructure:"max_request_size_mb"`
	LogLevel               string `mapstructure:"log_level"`
	LogFormat              string `mapstructure:"log_format"`

	TLSKeyFile           string `mapstructure:"tls_key_file"`
	TLSCertFile          string `mapstructure:"tls_cert_file"`
	TLSCAFile            string `mapstructure:"tls_ca_file"`
	ClientTimeoutSeconds int    `mapstructure:"client_timeout_seconds"` // 0 = no timeout
	MaxResponseBodyMB    int    `mapstructure:"max_response_body_mb"`

	DeliveryWorkerCount int `mapstructure:"delivery_worker_count"`
	DeliveryQueueSize   int `mapstructure:"delivery_queue_size"`

	Register                 bool   `mapstructure:"register"`
	OpenHIMAPIURL            string `mapstructure:"openhim_api_url"`
	OpenHIMUsername          string `mapstructure:"openhim_username"`
	OpenHIMPassword          string `mapstructure:"openhim_password"`
	OpenHIMTrustSelfSigned   bool   `mapstructure:"openhim_trust_self_signed"`
	HeartbeatIntervalSeconds int    `mapstructure:"heartbeat_interval_seconds"`

	MediatorConfigFile string `mapstructure:"mediator_config_file"` // empty = embedded document
}

func (c Config) ShutdownDrain() time.Duration {
	return time.Duration(c.ShutdownDrainSeconds) * time.Second
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

func (c Config) ClientTimeout() time.Duration {
	return time.Duration(c.ClientTimeoutSeconds) * time.Second
}

func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// Load reads config.toml from . or ./config, then MEDIATOR_* environment
// variables. A missing file is fine; every key has a default.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("mediator")
	v.AutomaticEnv()

	v.SetDefault("server_port", 3000)
	v.SetDefault("shutdown_drain_seconds", 2)
	v.SetDefault("shutdown_timeout_seconds", 10)
	v.SetDefault("max_request_size_mb", 50) // ADX payloads can be large
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("tls_key_file", "tls/key.pem")
	v.SetDefault("tls_cert_file", "tls/cert.pem")
	v.SetDefault("tls_ca_file", "tls/ca.pem")
	v.SetDefault("client_timeout_seconds", 0)
	v.SetDefault("max_response_body_mb", 10)
	v.SetDefault("delivery_worker_count", 4)
	v.SetDefault("delivery_queue_size", 1000)
	v.SetDefault("register", false)
	v.SetDefault("openhim_api_url", "https://localhost:8080")
	v.SetDefault("openhim_username", "root@openhim.org")
	v.SetDefault("openhim_password", "")
	v.SetDefault("openhim_trust_self_signed", true)
	v.SetDefault("heartbeat_interval_seconds", 10)
	v.SetDefault("mediator_config_file", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errs.Config(err, "failed to read config file", nil)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Config(err, "failed to unmarshal config", nil)
	}

	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		return nil, errs.Config(nil, fmt.Sprintf("invalid server_port: %d", cfg.ServerPort), nil)
	}
	if cfg.MaxRequestSizeMB <= 0 {
		cfg.MaxRequestSizeMB = 50
	}
	if cfg.MaxResponseBodyMB <= 0 {
		cfg.MaxResponseBodyMB = 10
	}
	if cfg.DeliveryWorkerCount <= 0 {
		cfg.DeliveryWorkerCount = 4
	}
	if cfg.DeliveryQueueSize <= 0 {
		cfg.DeliveryQueueSize = 1000
	}
	if cfg.HeartbeatIntervalSeconds <= 0 {
		cfg.HeartbeatIntervalSeconds = 10
	}
	if cfg.ClientTimeoutSeconds < 0 {
		cfg.ClientTimeoutSeconds = 0
	}

	cfg.OpenHIMAPIURL = strings.TrimRight(strings.TrimSpace(cfg.OpenHIMAPIURL), "/")
	if cfg.Register {
		if cfg.OpenHIMAPIURL == "" {
			return nil, errs.Config(nil, "openhim_api_url is required when register=true", nil)
		}
		if cfg.OpenHIMUsername == "" {
			return nil, errs.Config(nil, "openhim_username is required when register=true", nil)
		}
	}

	return &cfg, nil
}
