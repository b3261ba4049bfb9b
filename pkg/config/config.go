/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/openanchor-labs/dag-anchor/pkg/constants"
	"github.com/openanchor-labs/dag-anchor/pkg/logging"
	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type IPFSConfig struct {
	URL            string `yaml:"url"`
	AddTimeoutSec  int    `yaml:"add_timeout_sec"`
	ReadTimeoutSec int    `yaml:"read_timeout_sec"`
	RatePerSec     int    `yaml:"rate_per_sec"`
	RateBurst      int    `yaml:"rate_burst"`
	MaxAttempts    int    `yaml:"max_attempts"`
}

type LedgerConfig struct {
	Endpoint          string `yaml:"endpoint"`
	SubmitTimeoutSec  int    `yaml:"submit_timeout_sec"`
	MaxSubmitAttempts int    `yaml:"max_submit_attempts"`
}

type WebhookConfig struct {
	Secret            string `yaml:"secret"`
	ValidateSignature bool   `yaml:"validate_signature"`
}

type ChainConfig struct {
	MaxPendingEvents int64 `yaml:"max_pending_events"`
}

type BufferConfig struct {
	EventChannelSize int `yaml:"event_channel_size"`
}

type WorkerConfig struct {
	EventWorkers int `yaml:"event_workers"`
}

type ServerConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
}

type Config struct {
	DB      DBConfig       `yaml:"database"`
	IPFS    IPFSConfig     `yaml:"ipfs"`
	Ledger  LedgerConfig   `yaml:"ledger"`
	Webhook WebhookConfig  `yaml:"webhook"`
	Chain   ChainConfig    `yaml:"chain"`
	Buffer  BufferConfig   `yaml:"buffer"`
	Workers WorkerConfig   `yaml:"workers"`
	Server  ServerConfig   `yaml:"server"`
	Logging logging.Config `yaml:"logging"`
}

// Load reads configuration from config.yaml if it exists, otherwise from environment variables.
// Environment variables override YAML file settings.
func Load() (*Config, error) {
	var cfg *Config

	yamlPath := "config.yaml"
	if _, err := os.Stat(yamlPath); err == nil {
		var err error
		cfg, err = LoadConfigFromYAML(yamlPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = &Config{}
	}

	// Database
	if v := getEnv("DB_HOST", ""); v != "" {
		cfg.DB.Host = v
	} else if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}

	if v := getInt("DB_PORT", -1); v != -1 {
		cfg.DB.Port = v
	} else if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}

	if v := getEnv("DB_USER", ""); v != "" {
		cfg.DB.User = v
	} else if cfg.DB.User == "" {
		cfg.DB.User = "postgres"
	}

	if v := getEnv("DB_PASSWORD", ""); v != "" {
		cfg.DB.Password = v
	} else if cfg.DB.Password == "" {
		cfg.DB.Password = "postgres"
	}

	if v := getEnv("DB_NAME", ""); v != "" {
		cfg.DB.DBName = v
	} else if cfg.DB.DBName == "" {
		cfg.DB.DBName = "anchor"
	}

	if v := getEnv("DB_SSLMODE", ""); v != "" {
		cfg.DB.SSLMode = v
	} else if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}

	// IPFS
	if v := getEnv("IPFS_URL", ""); v != "" {
		cfg.IPFS.URL = v
	} else if cfg.IPFS.URL == "" {
		cfg.IPFS.URL = "localhost:5001"
	}

	if v := getInt("IPFS_ADD_TIMEOUT_SEC", -1); v != -1 {
		cfg.IPFS.AddTimeoutSec = v
	} else if cfg.IPFS.AddTimeoutSec == 0 {
		cfg.IPFS.AddTimeoutSec = 30
	}

	if v := getInt("IPFS_READ_TIMEOUT_SEC", -1); v != -1 {
		cfg.IPFS.ReadTimeoutSec = v
	} else if cfg.IPFS.ReadTimeoutSec == 0 {
		cfg.IPFS.ReadTimeoutSec = 30
	}

	if v := getInt("IPFS_RATE_PER_SEC", -1); v != -1 {
		cfg.IPFS.RatePerSec = v
	} else if cfg.IPFS.RatePerSec == 0 {
		cfg.IPFS.RatePerSec = 10
	}

	if v := getInt("IPFS_RATE_BURST", -1); v != -1 {
		cfg.IPFS.RateBurst = v
	} else if cfg.IPFS.RateBurst == 0 {
		cfg.IPFS.RateBurst = 10
	}

	if v := getInt("IPFS_MAX_ATTEMPTS", -1); v != -1 {
		cfg.IPFS.MaxAttempts = v
	} else if cfg.IPFS.MaxAttempts == 0 {
		cfg.IPFS.MaxAttempts = 3
	}

	// Ledger
	if v := getEnv("LEDGER_ENDPOINT", ""); v != "" {
		cfg.Ledger.Endpoint = v
	} else if cfg.Ledger.Endpoint == "" {
		cfg.Ledger.Endpoint = "http://localhost:8545"
	}

	if v := getInt("LEDGER_SUBMIT_TIMEOUT_SEC", -1); v != -1 {
		cfg.Ledger.SubmitTimeoutSec = v
	} else if cfg.Ledger.SubmitTimeoutSec == 0 {
		cfg.Ledger.SubmitTimeoutSec = 5
	}

	if v := getInt("LEDGER_MAX_SUBMIT_ATTEMPTS", -1); v != -1 {
		cfg.Ledger.MaxSubmitAttempts = v
	} else if cfg.Ledger.MaxSubmitAttempts == 0 {
		cfg.Ledger.MaxSubmitAttempts = 3
	}

	// Webhook
	if v := getEnv("WEBHOOK_SECRET", ""); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := getEnv("WEBHOOK_VALIDATE_SIGNATURE", ""); v != "" {
		cfg.Webhook.ValidateSignature = v == "true"
	}

	// Chain
	if v := getInt("MAX_PENDING_EVENTS", -1); v != -1 {
		cfg.Chain.MaxPendingEvents = int64(v)
	} else if cfg.Chain.MaxPendingEvents == 0 {
		cfg.Chain.MaxPendingEvents = constants.DefaultMaxPendingEvents
	}

	// Buffer
	if v := getInt("EVENT_CHANNEL_SIZE", -1); v != -1 {
		cfg.Buffer.EventChannelSize = v
	} else if cfg.Buffer.EventChannelSize == 0 {
		cfg.Buffer.EventChannelSize = 200
	}

	// Workers
	if v := getInt("EVENT_WORKERS", -1); v != -1 {
		cfg.Workers.EventWorkers = v
	} else if cfg.Workers.EventWorkers == 0 {
		cfg.Workers.EventWorkers = 8
	}

	// Server
	if v := getEnv("HTTP_ADDR", ""); v != "" {
		cfg.Server.HTTPAddr = v
	} else if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":9000"
	}

	if v := getInt("HTTP_SHUTDOWN_TIMEOUT_SEC", -1); v != -1 {
		cfg.Server.ShutdownTimeoutSec = v
	} else if cfg.Server.ShutdownTimeoutSec == 0 {
		cfg.Server.ShutdownTimeoutSec = 10
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required fields are present and sane.
func (c *Config) Validate() error {
	if c.DB.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.DB.Port <= 0 {
		return fmt.Errorf("database port is required")
	}
	if c.DB.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.DB.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	if c.IPFS.URL == "" {
		return fmt.Errorf("ipfs url is required")
	}
	if c.Ledger.Endpoint == "" {
		return fmt.Errorf("ledger endpoint is required")
	}
	if c.Chain.MaxPendingEvents <= 0 {
		return fmt.Errorf("max_pending_events must be positive")
	}
	if c.Workers.EventWorkers <= 0 {
		return fmt.Errorf("event_workers must be positive")
	}
	if c.Webhook.ValidateSignature && c.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret is required when signature validation is enabled")
	}
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	return nil
}

// LoadConfigFromYAML loads configuration from a YAML file.
func LoadConfigFromYAML(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
