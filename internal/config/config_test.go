package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func TestLoadAppliesDefaultsWithNoConfigFile(t *testing.T) {
	cfg, err := Load(viper.New(), t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChunkSize != DefaultChunkSize {
		t.Fatalf("ChunkSize = %d, want %d", cfg.ChunkSize, DefaultChunkSize)
	}
	if cfg.MaxChunks != DefaultMaxChunks {
		t.Fatalf("MaxChunks = %d, want %d", cfg.MaxChunks, DefaultMaxChunks)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Fatalf("LogLevel = %q, want %q", cfg.LogLevel, DefaultLogLevel)
	}
}

func TestBindFlagsOverridesDefaults(t *testing.T) {
	v := viper.New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(v, flags); err != nil {
		t.Fatalf("bind flags: %v", err)
	}
	if err := flags.Parse([]string{"--chunk-size=128", "--root-dir=/tmp/wal"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg, err := Load(v, t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChunkSize != 128 {
		t.Fatalf("ChunkSize = %d, want 128", cfg.ChunkSize)
	}
	if cfg.RootDir != "/tmp/wal" {
		t.Fatalf("RootDir = %q, want /tmp/wal", cfg.RootDir)
	}
}
