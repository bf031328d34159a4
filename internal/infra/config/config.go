package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Servers  []ServerConfig `mapstructure:"servers" yaml:"servers"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Pool     PoolConfig     `mapstructure:"pool" yaml:"pool"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`

	Port string `mapstructure:"port" yaml:"port"`
}

type ServerConfig struct {
	ID            string `mapstructure:"id" yaml:"id"`
	Host          string `mapstructure:"host" yaml:"host"`
	Port          int    `mapstructure:"port" yaml:"port"`
	Username      string `mapstructure:"username" yaml:"username"`
	Password      string `mapstructure:"password" yaml:"password"`
	TLS           bool   `mapstructure:"tls" yaml:"tls"`
	MaxConnection int    `mapstructure:"max_connections" yaml:"max_connections"`
	Priority      int    `mapstructure:"priority" yaml:"priority"`
}

type DownloadConfig struct {
	TempDir            string  `mapstructure:"temp_dir" yaml:"temp_dir"`
	OutDir             string  `mapstructure:"out_dir" yaml:"out_dir"`
	SegmentConcurrency int     `mapstructure:"segment_concurrency" yaml:"segment_concurrency"`
	RetryPasses        int     `mapstructure:"retry_passes" yaml:"retry_passes"`
	FailureThreshold   float64 `mapstructure:"failure_threshold" yaml:"failure_threshold"`
}

type PoolConfig struct {
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	BlobDir    string `mapstructure:"blob_dir" yaml:"blob_dir"`
}

func Load(path string) (*Config, error) {

	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Fall back to the Docker convention before giving up.
		if path == "config.yaml" {
			if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
				path = "/config/config.yaml"
			} else {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
		} else {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("download.temp_dir", "./downloads/incomplete")
	v.SetDefault("download.out_dir", "./downloads")
	v.SetDefault("download.segment_concurrency", 10)
	v.SetDefault("download.retry_passes", 3)
	v.SetDefault("download.failure_threshold", 0.10)
	v.SetDefault("pool.acquire_timeout", "30s")
	v.SetDefault("pool.command_timeout", "30s")
	v.SetDefault("log.path", "hermes.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("store.sqlite_path", "./data/hermes.db")
	v.SetDefault("store.blob_dir", "./data/nzbs")

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	v.SetEnvPrefix("HERMES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Servers) == 0 {
		return errors.New("at least one server must be configured")
	}

	for i, s := range c.Servers {
		if s.ID == "" {
			return fmt.Errorf("server[%d] requires a unique ID", i)
		}

		if s.Host == "" {
			return fmt.Errorf("server %s: host is required", s.ID)
		}

		if s.Port == 0 {
			return fmt.Errorf("server %s: port is required", s.ID)
		}

		if s.TLS && s.Port == 119 {
			fmt.Println("Warning: TLS is enabled but port is set to 119 (standard non-TLS)")
		}

		if s.MaxConnection <= 0 {
			// Default to a sane value
			c.Servers[i].MaxConnection = 10
		}

		if s.Priority == 0 {
			// Default to same priority
			c.Servers[i].Priority = 1
		}
	}

	if c.Download.SegmentConcurrency <= 0 {
		c.Download.SegmentConcurrency = 10
	}

	if c.Download.RetryPasses <= 0 {
		c.Download.RetryPasses = 3
	}

	if c.Download.FailureThreshold <= 0 || c.Download.FailureThreshold > 1 {
		c.Download.FailureThreshold = 0.10
	}

	if c.Pool.AcquireTimeout <= 0 {
		c.Pool.AcquireTimeout = 30 * time.Second
	}

	if c.Pool.CommandTimeout <= 0 {
		c.Pool.CommandTimeout = 30 * time.Second
	}

	if c.Download.TempDir == "" {
		c.Download.TempDir = "./downloads/incomplete"
	}

	return nil
}
