// Package config loads the ETL settings.
//
// Sources are layered, later ones winning:
//
//	built-in defaults -> YAML file (optional) -> SPARKIFY_* environment variables
//
// Environment keys map onto the YAML layout by their first underscore:
// SPARKIFY_STORAGE_DSN sets storage.dsn and SPARKIFY_DATA_SONG_DIR sets
// data.song_dir.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"sparkify/internal/multitable"
)

const (
	// EnvPrefix scopes the environment overrides.
	EnvPrefix = "SPARKIFY_"
	// EnvConfigPath names the config file when -config is not given.
	EnvConfigPath = EnvPrefix + "CONFIG"
	// DefaultConfigFile is tried in the working directory last.
	DefaultConfigFile = "sparkify.yaml"
)

// Config is the full set of settings for one ETL run.
type Config struct {
	Job     string        `koanf:"job" validate:"required"`
	Storage StorageConfig `koanf:"storage"`
	Data    DataConfig    `koanf:"data"`
	Logging LoggingConfig `koanf:"logging"`
	Metrics MetricsConfig `koanf:"metrics"`
	Runtime RuntimeConfig `koanf:"runtime"`
}

type StorageConfig struct {
	// Kind is any backend registered with storage.RegisterMulti.
	Kind string `koanf:"kind" validate:"required,storage_kind"`
	// DSN may reference environment variables as ${VAR}; they are expanded
	// when the store is opened.
	DSN string `koanf:"dsn" validate:"required"`
}

type DataConfig struct {
	SongDir string `koanf:"song_dir" validate:"required"`
	LogDir  string `koanf:"log_dir" validate:"required"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type MetricsConfig struct {
	Backend        string `koanf:"backend" validate:"oneof=none datadog prompush"`
	PushgatewayURL string `koanf:"pushgateway_url" validate:"required_if=Backend prompush"`
	// Tags is a comma separated list of extra Datadog tags.
	Tags       string        `koanf:"tags"`
	FlushEvery time.Duration `koanf:"flush_every" validate:"min=0"`
}

type RuntimeConfig struct {
	BatchSize int `koanf:"batch_size" validate:"min=0"`
}

// Defaults returns the settings used when nothing overrides them.
func Defaults() Config {
	return Config{
		Job: "sparkify",
		Storage: StorageConfig{
			Kind: "sqlite",
			DSN:  "file:sparkify.db",
		},
		Data: DataConfig{
			SongDir: "data/song_data",
			LogDir:  "data/log_data",
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Metrics: MetricsConfig{Backend: "none", FlushEvery: 60 * time.Second},
		Runtime: RuntimeConfig{BatchSize: multitable.DefaultBatchSize},
	}
}

// ErrInvalid is wrapped by Load when validation reports an error issue.
var ErrInvalid = errors.New("config: invalid")

// Load builds a Config from defaults, the file at path and the environment.
// An empty path falls back to $SPARKIFY_CONFIG and then ./sparkify.yaml;
// a missing fallback file is not an error, a missing explicit one is.
func Load(path string) (Config, []Issue, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, nil, fmt.Errorf("config: load defaults: %w", err)
	}

	cfgPath, err := findConfigFile(path)
	if err != nil {
		return Config{}, nil, err
	}
	if cfgPath != "" {
		if err := k.Load(file.Provider(cfgPath), yaml.Parser()); err != nil {
			return Config{}, nil, fmt.Errorf("config: load %s: %w", cfgPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return Config{}, nil, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	normalize(&cfg)

	issues := Validate(cfg)
	if HasErrors(issues) {
		return cfg, issues, fmt.Errorf("%w: %s", ErrInvalid, summarize(issues))
	}
	return cfg, issues, nil
}

func findConfigFile(explicit string) (string, error) {
	if p := strings.TrimSpace(explicit); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("config: %w", err)
		}
		return p, nil
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("config: %s: %w", EnvConfigPath, err)
		}
		return p, nil
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile, nil
	}
	return "", nil
}

// envTransformFunc maps SPARKIFY_SECTION_KEY to section.key. Keys without a
// section (SPARKIFY_JOB) stay top level.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "" {
		return ""
	}
	return strings.Replace(key, "_", ".", 1)
}

func normalize(cfg *Config) {
	cfg.Job = strings.TrimSpace(cfg.Job)
	cfg.Storage.Kind = strings.ToLower(strings.TrimSpace(cfg.Storage.Kind))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	cfg.Metrics.Backend = strings.ToLower(strings.TrimSpace(cfg.Metrics.Backend))
	if cfg.Metrics.Backend == "" {
		cfg.Metrics.Backend = "none"
	}
}

// Pipeline converts the settings the runner needs.
func (c Config) Pipeline() multitable.Pipeline {
	return multitable.Pipeline{
		Job: c.Job,
		Storage: multitable.Storage{
			Kind: c.Storage.Kind,
			DSN:  c.Storage.DSN,
		},
		Data: multitable.Data{
			SongDir: c.Data.SongDir,
			LogDir:  c.Data.LogDir,
		},
		Runtime: multitable.RuntimeConfig{BatchSize: c.Runtime.BatchSize},
	}
}
