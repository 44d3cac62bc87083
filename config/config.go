// Package config loads the YAML configuration shared by every sidestacker
// command. Missing keys keep their defaults; the result is validated before
// use.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/sidestacker/executor/mcts"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type SearchConfig struct {
	C           float32 `yaml:"c" validate:"gt=0"`
	NumSearches int     `yaml:"num_searches" validate:"gte=1"`
}

type GuidedConfig struct {
	C                float32 `yaml:"c" validate:"gt=0"`
	NumSearches      int     `yaml:"num_searches" validate:"gte=1"`
	DirichletEpsilon float64 `yaml:"dirichlet_epsilon" validate:"gte=0,lte=1"`
	DirichletAlpha   float64 `yaml:"dirichlet_alpha" validate:"gt=0"`
}

// ServingConfig holds the search parameters used by best-move requests.
type ServingConfig struct {
	Rollout SearchConfig `yaml:"rollout"`
	Guided  GuidedConfig `yaml:"guided"`
}

type SelfPlayConfig struct {
	Iterations        int     `yaml:"iterations" validate:"gte=1"`
	GamesPerIteration int     `yaml:"games_per_iteration" validate:"gte=1"`
	Workers           int     `yaml:"workers" validate:"gte=1"`
	Temperature       float64 `yaml:"temperature" validate:"gte=0"`
	BatchSize         int     `yaml:"batch_size" validate:"gte=1"`
	OutDir            string  `yaml:"out_dir" validate:"required"`
	Seed              uint64  `yaml:"seed"`
}

type InferenceConfig struct {
	// ModelPath is optional; without a model the hard level falls back to
	// rollout search and self-play uses rollouts.
	ModelPath    string        `yaml:"model_path"`
	Sessions     int           `yaml:"sessions" validate:"gte=1"`
	BatchSize    int           `yaml:"batch_size" validate:"gte=1"`
	BatchTimeout time.Duration `yaml:"batch_timeout" validate:"gt=0"`
	LibraryPath  string        `yaml:"library_path"`
	DisableCUDA  bool          `yaml:"disable_cuda"`
}

type ServerConfig struct {
	Addr        string        `yaml:"addr" validate:"required"`
	RateLimit   float64       `yaml:"rate_limit" validate:"gt=0"`
	Burst       int           `yaml:"burst" validate:"gte=1"`
	MoveTimeout time.Duration `yaml:"move_timeout" validate:"gt=0"`
	// DataDirs are the shard directories browsable under /api. Empty
	// disables the game viewer.
	DataDirs []string `yaml:"data_dirs" validate:"dive,required"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

type Config struct {
	Rollout   SearchConfig    `yaml:"rollout"`
	Guided    GuidedConfig    `yaml:"guided"`
	Serving   ServingConfig   `yaml:"serving"`
	SelfPlay  SelfPlayConfig  `yaml:"selfplay"`
	Inference InferenceConfig `yaml:"inference"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the built-in configuration. Serving searches run without
// root noise.
func Default() Config {
	return Config{
		Rollout: SearchConfig{C: 1.41, NumSearches: 1000},
		Guided: GuidedConfig{
			C:                2,
			NumSearches:      1000,
			DirichletEpsilon: 0.25,
			DirichletAlpha:   0.3,
		},
		Serving: ServingConfig{
			Rollout: SearchConfig{C: 1.41, NumSearches: 1000},
			Guided: GuidedConfig{
				C:                2,
				NumSearches:      1000,
				DirichletEpsilon: 0,
				DirichletAlpha:   0.3,
			},
		},
		SelfPlay: SelfPlayConfig{
			Iterations:        1,
			GamesPerIteration: 100,
			Workers:           1,
			Temperature:       1,
			BatchSize:         64,
			OutDir:            "data/selfplay",
		},
		Inference: InferenceConfig{
			Sessions:     1,
			BatchSize:    64,
			BatchTimeout: time.Millisecond,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			RateLimit:   20,
			Burst:       40,
			MoveTimeout: 30 * time.Second,
			DataDirs:    []string{"data/selfplay"},
		},
		Log: LogConfig{Level: "info", Pretty: true},
	}
}

// Load reads path over the defaults. An empty path or a missing file yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, cfg.Validate()
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// WriteDefault writes the default configuration to path, creating parent
// directories. An existing file is left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var validate = validator.New()

func (c Config) Validate() error {
	return validate.Struct(c)
}

// MCTS converts the section into search parameters.
func (c SearchConfig) MCTS() mcts.Config {
	return mcts.Config{C: c.C, NumSearches: c.NumSearches}
}

func (c GuidedConfig) MCTS() mcts.Config {
	return mcts.Config{
		C:                c.C,
		NumSearches:      c.NumSearches,
		DirichletEpsilon: c.DirichletEpsilon,
		DirichletAlpha:   c.DirichletAlpha,
	}
}
