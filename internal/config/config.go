// Package config loads the storage core's tunable knobs (pool size and
// sharding, working directory, index fan-out and bucket capacity) from a
// YAML file via viper, mirroring the teacher's NovaSqlConfig/LoadConfig.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/relkernel/storagecore/internal/index/hash"
)

// Config holds every knob the core's constructors need.
type Config struct {
	AppName string `mapstructure:"app_name"`

	Pool struct {
		NumFrames     int   `mapstructure:"num_frames"`
		NumInstances  int32 `mapstructure:"num_instances"`
		InstanceIndex int32 `mapstructure:"instance_index"`
	} `mapstructure:"pool"`

	Storage struct {
		Workdir string `mapstructure:"workdir"`
	} `mapstructure:"storage"`

	Index struct {
		BTreeOrder  int `mapstructure:"btree_order"`
		HashBuckets int `mapstructure:"hash_buckets"`
	} `mapstructure:"index"`
}

// LoadConfig reads a YAML config file at path and unmarshals it into a Config.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is supplied: a
// single-instance pool of 64 frames over 4 KiB pages.
func Default() *Config {
	cfg := &Config{}
	cfg.AppName = "storagecore"
	cfg.Pool.NumFrames = 64
	cfg.Pool.NumInstances = 1
	cfg.Pool.InstanceIndex = 0
	cfg.Storage.Workdir = "."
	cfg.Index.BTreeOrder = 128
	cfg.Index.HashBuckets = hash.DefaultBucketArraySize
	return cfg
}
