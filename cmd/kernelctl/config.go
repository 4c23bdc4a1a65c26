package main

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the plain struct kernelctl passes into the library. The
// library itself never touches viper or the environment; only this binary
// does.
type Config struct {
	SegmentBasePath string `mapstructure:"segment_base_path"`
	PoolSize        int    `mapstructure:"pool_size"`
	LRUK            int    `mapstructure:"lru_k"`
	MaxSegmentFiles int    `mapstructure:"max_segment_files"`
}

func defaultConfig() Config {
	return Config{
		SegmentBasePath: "./data/kernel",
		PoolSize:        256,
		LRUK:            2,
		MaxSegmentFiles: 256,
	}
}

// loadConfig reads kernelctl.yaml (if present) from configPath, overlaid by
// KERNELCTL_-prefixed environment variables, the way the teacher's
// pack-mate loads its own cmd/server configuration.
func loadConfig(configPath string) (Config, error) {
	cfg := defaultConfig()

	v := viper.New()
	v.SetEnvPrefix("KERNELCTL")
	v.AutomaticEnv()
	v.SetDefault("segment_base_path", cfg.SegmentBasePath)
	v.SetDefault("pool_size", cfg.PoolSize)
	v.SetDefault("lru_k", cfg.LRUK)
	v.SetDefault("max_segment_files", cfg.MaxSegmentFiles)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
