package config

// Package config provides a reusable loader for prism-node configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/prism-node/prism/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a prism-node process. Load fills
// it from a default.yaml found under cmd/config or config; the repository
// itself ships no such file.
type Config struct {
	DLT struct {
		Source          string        `mapstructure:"source" json:"source" yaml:"source"` // "blockfrost" (also when empty), "dbsync" or "memory"
		BlockfrostURL   string        `mapstructure:"blockfrost_url" json:"blockfrost_url" yaml:"blockfrost_url"`
		BlockfrostKey   string        `mapstructure:"blockfrost_project_id" json:"blockfrost_project_id" yaml:"blockfrost_project_id"`
		DbSyncDSN       string        `mapstructure:"dbsync_dsn" json:"dbsync_dsn" yaml:"dbsync_dsn"`
		PollInterval    time.Duration `mapstructure:"poll_interval" json:"poll_interval" yaml:"poll_interval"`
		ConfirmationLag uint64        `mapstructure:"confirmation_lag" json:"confirmation_lag" yaml:"confirmation_lag"`
	} `mapstructure:"dlt" json:"dlt" yaml:"dlt"`

	Store struct {
		DSN         string `mapstructure:"dsn" json:"dsn" yaml:"dsn"`
		MaxConns    int    `mapstructure:"max_conns" json:"max_conns" yaml:"max_conns"`
		ResolverLRU int    `mapstructure:"resolver_lru" json:"resolver_lru" yaml:"resolver_lru"`
	} `mapstructure:"store" json:"store" yaml:"store"`

	Ingest struct {
		CursorDebounce time.Duration `mapstructure:"cursor_debounce" json:"cursor_debounce" yaml:"cursor_debounce"`
		IndexInterval  time.Duration `mapstructure:"index_interval" json:"index_interval" yaml:"index_interval"`
	} `mapstructure:"ingest" json:"ingest" yaml:"ingest"`

	HTTP struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
	} `mapstructure:"http" json:"http" yaml:"http"`

	Logging struct {
		Level string `mapstructure:"level" json:"level" yaml:"level"`
		File  string `mapstructure:"file" json:"file" yaml:"file"`
	} `mapstructure:"logging" json:"logging" yaml:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("PRISM")
	viper.AutomaticEnv() // picks up PRISM_-prefixed overrides

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the PRISM_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("PRISM_ENV", ""))
}
