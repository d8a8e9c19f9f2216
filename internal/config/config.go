// Package config loads the settings needed to open a log: root directory,
// chunk_size, max_chunks, and logging verbosity. It is viper-backed so the
// demo CLI and any embedding program can source these from a config file,
// environment variables, or flags, with flags taking precedence.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Defaults are the settings used when no config file, environment variable
// or flag supplies a value.
const (
	DefaultChunkSize = 64 * 1024 * 1024
	DefaultMaxChunks = 1024
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Config holds the resolved settings for opening a log.
type Config struct {
	RootDir   string `mapstructure:"root_dir"`
	ChunkSize uint64 `mapstructure:"chunk_size"`
	MaxChunks uint64 `mapstructure:"max_chunks"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Load resolves Config from (in ascending priority) defaults, a config file
// named "walog" discovered on configPaths, environment variables prefixed
// WALOG_, and flags already bound to v via BindFlags.
func Load(v *viper.Viper, configPaths ...string) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	v.SetDefault("root_dir", ".")
	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("max_chunks", DefaultMaxChunks)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", DefaultLogFormat)

	v.SetConfigName("walog")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("config: read config file: %w", err)
		}
	}

	v.SetEnvPrefix("walog")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// BindFlags registers the flags Load reads as the highest-priority source,
// and binds them into v.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	flags.String("root-dir", ".", "directory holding the log's chunk files")
	flags.Uint64("chunk-size", DefaultChunkSize, "soft per-chunk byte limit")
	flags.Uint64("max-chunks", DefaultMaxChunks, "soft upper bound on concurrently open chunks")
	flags.String("log-level", DefaultLogLevel, "log level: debug, info, warn, error")
	flags.String("log-format", DefaultLogFormat, "log format: text or json")

	for flagName, key := range map[string]string{
		"root-dir":   "root_dir",
		"chunk-size": "chunk_size",
		"max-chunks": "max_chunks",
		"log-level":  "log_level",
		"log-format": "log_format",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flagName)); err != nil {
			return fmt.Errorf("config: bind flag %s: %w", flagName, err)
		}
	}
	return nil
}
