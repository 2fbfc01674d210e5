// Package config loads settings for the self-play binaries from an optional
// file plus GOMOKU_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "GOMOKU"

var ErrInvalid = errors.New("invalid config")

type Config struct {
	BoardSize int             `mapstructure:"board_size"`
	Workers   int             `mapstructure:"workers"`
	Games     int             `mapstructure:"games"`
	Search    SearchConfig    `mapstructure:"search"`
	Predictor PredictorConfig `mapstructure:"predictor"`
	Output    OutputConfig    `mapstructure:"output"`
	Log       LogConfig       `mapstructure:"log"`
	Viewer    ViewerConfig    `mapstructure:"viewer"`
	TUI       bool            `mapstructure:"tui"`
}

type SearchConfig struct {
	Simulations int     `mapstructure:"simulations"`
	Cpuct       float64 `mapstructure:"cpuct"`
	SampleMoves int     `mapstructure:"sample_moves"`
}

type PredictorConfig struct {
	Kind         string        `mapstructure:"kind"` // onnx, rollout or uniform
	ModelPath    string        `mapstructure:"model_path"`
	Sessions     int           `mapstructure:"sessions"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	DisableCUDA  bool          `mapstructure:"disable_cuda"`
	Playouts     int           `mapstructure:"playouts"`
	Seed         int64         `mapstructure:"seed"`
}

type OutputConfig struct {
	Dir          string `mapstructure:"dir"`
	GamesPerFile int    `mapstructure:"games_per_file"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
}

type ViewerConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the viewer
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("board_size", 15)
	v.SetDefault("workers", 8)
	v.SetDefault("games", 0)
	v.SetDefault("tui", false)

	v.SetDefault("search.simulations", 400)
	v.SetDefault("search.cpuct", 1.0)
	v.SetDefault("search.sample_moves", 0)

	v.SetDefault("predictor.kind", "rollout")
	v.SetDefault("predictor.model_path", "models/latest.onnx")
	v.SetDefault("predictor.sessions", 1)
	v.SetDefault("predictor.batch_size", 128)
	v.SetDefault("predictor.batch_timeout", "1ms")
	v.SetDefault("predictor.disable_cuda", false)
	v.SetDefault("predictor.playouts", 8)
	v.SetDefault("predictor.seed", 0)

	v.SetDefault("output.dir", "data/generated")
	v.SetDefault("output.games_per_file", 50)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("viewer.addr", "")
}

// Load reads path (if non-empty) and the environment on top of defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.BoardSize < 5:
		return fmt.Errorf("%w: board_size %d is below 5", ErrInvalid, c.BoardSize)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", ErrInvalid)
	case c.Search.Simulations < 1:
		return fmt.Errorf("%w: search.simulations must be positive", ErrInvalid)
	case c.Search.Cpuct <= 0:
		return fmt.Errorf("%w: search.cpuct must be positive", ErrInvalid)
	case c.Games < 0:
		return fmt.Errorf("%w: games must not be negative", ErrInvalid)
	}
	switch c.Predictor.Kind {
	case "onnx", "rollout", "uniform":
	default:
		return fmt.Errorf("%w: unknown predictor.kind %q", ErrInvalid, c.Predictor.Kind)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: unknown log.format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}
