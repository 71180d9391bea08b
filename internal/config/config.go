package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/kevinxiao27/textcrdt/crdt"
	"github.com/kevinxiao27/textcrdt/internal/skiplist"
)

const envPrefix = "TEXTCRDT"

type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Index struct {
		MaxHeight int    `mapstructure:"max_height"`
		Seed      uint64 `mapstructure:"seed"` // 0 picks a random seed
	} `mapstructure:"index"`
	Clients struct {
		Limit int `mapstructure:"limit"` // 0 means the id space
	} `mapstructure:"clients"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("index.max_height", skiplist.DefaultMaxHeight)
	v.SetDefault("index.seed", 0)
	v.SetDefault("clients.limit", 0)
}

// Load reads defaults, then the YAML file at path if path is set, then
// TEXTCRDT_* environment variables (TEXTCRDT_SERVER_ADDR and so on).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

// StateOptions translates the index and client settings for crdt.New.
func (c *Config) StateOptions(logger *slog.Logger) []crdt.Option {
	opts := []crdt.Option{
		crdt.WithLogger(logger),
		crdt.WithMaxHeight(c.Index.MaxHeight),
		crdt.WithClientLimit(c.Clients.Limit),
	}
	if c.Index.Seed != 0 {
		opts = append(opts, crdt.WithSeed(c.Index.Seed))
	}
	return opts
}
