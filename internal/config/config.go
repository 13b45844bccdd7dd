package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverBolt     = "bolt"
)

type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Log       LogConfig       `mapstructure:"log"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Path     string `mapstructure:"path"`
}

type NormalizeConfig struct {
	ExcludedColumns []string `mapstructure:"excluded_columns"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

type AlertsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SlackWebhook string `mapstructure:"slack_webhook"`
}

// ConfigurationError reports a missing required connection parameter. It is
// fatal before any I/O is attempted.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", e.Field)
}

func IsConfigurationError(err error) bool {
	_, ok := err.(*ConfigurationError)
	return ok
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if expanded := os.ExpandEnv(val); expanded != val {
			v.Set(key, expanded)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Host == "" {
			return &ConfigurationError{Field: "database.host"}
		}
		if c.Database.Database == "" {
			return &ConfigurationError{Field: "database.database"}
		}
		if c.Database.User == "" {
			return &ConfigurationError{Field: "database.user"}
		}
		if c.Database.Password == "" {
			return &ConfigurationError{Field: "database.password"}
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
	case DriverSQLite, DriverBolt:
		if c.Database.Path == "" {
			return &ConfigurationError{Field: "database.path"}
		}
	default:
		return fmt.Errorf("invalid database driver: %s (valid options: postgres, sqlite, bolt)", c.Database.Driver)
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	return nil
}

func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		d.Host, d.Port, d.Database, d.User, d.Password)
}
