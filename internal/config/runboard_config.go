// Package config holds the master configuration for runboard.
package config

import (
	"encoding/json"

	"github.com/pkg/errors"
)

const sslModeDisable = "disable"

// DBConfig is the configuration for the relational (Postgres) store.
type DBConfig struct {
	User        string `json:"user"`
	Password    string `json:"password"`
	Host        string `json:"host"`
	Port        string `json:"port"`
	Name        string `json:"name"`
	SSLMode     string `json:"ssl_mode"`
	SSLRootCert string `json:"ssl_root_cert"`
}

// ClickHouseConfig is the configuration for the columnar metric store.
type ClickHouseConfig struct {
	Addr     string `json:"addr"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// RedisConfig is the configuration for the optional read-through cache. An
// empty Addr disables caching entirely.
type RedisConfig struct {
	Addr       string `json:"addr"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// Config is the top-level runboard master configuration.
type Config struct {
	ConfigFile string           `json:"config_file"`
	Port       int              `json:"port"`
	IDSalt     string           `json:"id_salt"`
	DB         DBConfig         `json:"db"`
	ClickHouse ClickHouseConfig `json:"clickhouse"`
	Redis      RedisConfig      `json:"redis"`
	LogLevel   string           `json:"log_level"`
}

// DefaultConfig returns the default master configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:     8092,
		IDSalt:   "runboard",
		LogLevel: "info",
		DB: DBConfig{
			Host:    "localhost",
			Port:    "5432",
			Name:    "runboard",
			SSLMode: sslModeDisable,
		},
		ClickHouse: ClickHouseConfig{
			Addr:     "localhost:9000",
			Database: "runboard",
		},
		Redis: RedisConfig{
			TTLSeconds: 30,
		},
	}
}

// Resolve validates the configuration and fills derived defaults.
func (c *Config) Resolve() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	if c.DB.Name == "" {
		return errors.New("database name must be set")
	}
	if c.ClickHouse.Addr == "" {
		return errors.New("clickhouse address must be set")
	}
	if c.Redis.Addr != "" && c.Redis.TTLSeconds <= 0 {
		return errors.New("redis ttl_seconds must be positive when caching is enabled")
	}
	return nil
}

// Printable returns the configuration as JSON with secrets hidden.
func (c Config) Printable() ([]byte, error) {
	const hiddenValue = "********"
	if c.DB.Password != "" {
		c.DB.Password = hiddenValue
	}
	if c.ClickHouse.Password != "" {
		c.ClickHouse.Password = hiddenValue
	}
	if c.Redis.Password != "" {
		c.Redis.Password = hiddenValue
	}
	out, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling config")
	}
	return out, nil
}
