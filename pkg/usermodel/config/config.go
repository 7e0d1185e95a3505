package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/usermodel/pkg/usermodel/classifier"
	"github.com/cognicore/usermodel/pkg/usermodel/gate"
	"github.com/cognicore/usermodel/pkg/usermodel/history"
	"github.com/cognicore/usermodel/pkg/usermodel/intent"
	"github.com/cognicore/usermodel/pkg/usermodel/internalerr"
	"github.com/cognicore/usermodel/pkg/usermodel/store"
)

// Config is the on-disk configuration of the engine and the CLI.
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Classifier ClassifierConfig `yaml:"classifier"`
	History    HistoryConfig    `yaml:"history"`
	Gate       GateConfig       `yaml:"gate"`
	Intent     IntentConfig     `yaml:"intent"`
	Store      StoreConfig      `yaml:"store"`
	Log        LogConfig        `yaml:"log"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ModelConfig points at the classifier model and the ad catalog.
type ModelConfig struct {
	MatrixPath  string `yaml:"matrix_path"`
	PriorsPath  string `yaml:"priors_path"`
	CatalogPath string `yaml:"catalog_path"`
}

// ClassifierConfig bounds the page length. An explicit min_words of 0
// classifies pages of any length.
type ClassifierConfig struct {
	MinWords int `yaml:"min_words"`
	MaxWords int `yaml:"max_words"`
}

// HistoryConfig selects the window size and aggregation policy.
// HalfLife is counted in pages and only used by the "decay" policy.
type HistoryConfig struct {
	Capacity int     `yaml:"capacity"`
	Policy   string  `yaml:"policy"`
	HalfLife float64 `yaml:"half_life"`
}

type GateConfig struct {
	MinInterval     string   `yaml:"min_interval"`
	RequiredIntents []string `yaml:"required_intents"`
}

type IntentConfig struct {
	ShoppingHosts []string `yaml:"shopping_hosts"`
	SearchHosts   []string `yaml:"search_hosts"`
}

type StoreConfig struct {
	Path    string `yaml:"path"`
	Profile string `yaml:"profile"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WatchConfig drives the periodic serve loop of the CLI.
type WatchConfig struct {
	Schedule string `yaml:"schedule"`
	WindowID int    `yaml:"window_id"`
}

// Load reads configuration from a YAML file, applies defaults and
// environment overrides, and validates the result. An empty path yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := newConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := newConfig()
	applyDefaults(cfg)
	return cfg
}

// newConfig presets the fields where zero is a valid setting, so the YAML
// decoder only overwrites them when the file names them.
func newConfig() *Config {
	return &Config{Classifier: ClassifierConfig{MinWords: classifier.DefaultMinWords}}
}

func applyDefaults(cfg *Config) {
	if cfg.Classifier.MaxWords == 0 {
		cfg.Classifier.MaxWords = classifier.DefaultMaxWords
	}
	if cfg.History.Capacity == 0 {
		cfg.History.Capacity = history.DefaultCapacity
	}
	if cfg.History.Policy == "" {
		cfg.History.Policy = "sum"
	}
	if cfg.History.HalfLife == 0 {
		cfg.History.HalfLife = 2
	}
	if cfg.Gate.MinInterval == "" {
		cfg.Gate.MinInterval = gate.DefaultMinInterval.String()
	}
	if cfg.Gate.RequiredIntents == nil {
		cfg.Gate.RequiredIntents = []string{string(intent.Shopping)}
	}
	if len(cfg.Intent.ShoppingHosts) == 0 {
		cfg.Intent.ShoppingHosts = append([]string(nil), intent.DefaultShoppingHosts...)
	}
	if len(cfg.Intent.SearchHosts) == 0 {
		cfg.Intent.SearchHosts = append([]string(nil), intent.DefaultSearchHosts...)
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./usermodel.db"
	}
	if cfg.Store.Profile == "" {
		cfg.Store.Profile = store.DefaultProfile
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Watch.Schedule == "" {
		cfg.Watch.Schedule = "@every 5m"
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	if dbPath := os.Getenv("USERMODEL_DB"); dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if level := os.Getenv("USERMODEL_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

func validate(cfg *Config) error {
	if cfg.Classifier.MinWords < 0 || cfg.Classifier.MaxWords < cfg.Classifier.MinWords {
		return fmt.Errorf("%w: classifier word bounds [%d, %d]",
			internalerr.ErrInvalidConfig, cfg.Classifier.MinWords, cfg.Classifier.MaxWords)
	}
	if cfg.History.Capacity < 1 {
		return fmt.Errorf("%w: history capacity must be positive, got %d",
			internalerr.ErrInvalidConfig, cfg.History.Capacity)
	}
	if _, err := history.ParsePolicy(cfg.History.Policy, cfg.History.HalfLife); err != nil {
		return err
	}
	d, err := time.ParseDuration(cfg.Gate.MinInterval)
	if err != nil {
		return fmt.Errorf("%w: min_interval %q: %v", internalerr.ErrInvalidConfig, cfg.Gate.MinInterval, err)
	}
	if d <= 0 {
		return fmt.Errorf("%w: min_interval must be positive, got %s", internalerr.ErrInvalidConfig, d)
	}
	if _, err := parseKinds(cfg.Gate.RequiredIntents); err != nil {
		return err
	}
	if (cfg.Model.MatrixPath == "") != (cfg.Model.PriorsPath == "") {
		return fmt.Errorf("%w: matrix_path and priors_path must be set together", internalerr.ErrInvalidConfig)
	}
	if _, err := cron.ParseStandard(cfg.Watch.Schedule); err != nil {
		return fmt.Errorf("%w: watch schedule %q: %v", internalerr.ErrInvalidConfig, cfg.Watch.Schedule, err)
	}
	return nil
}

// MinInterval returns the parsed gate interval.
func (c *Config) MinInterval() time.Duration {
	d, err := time.ParseDuration(c.Gate.MinInterval)
	if err != nil || d <= 0 {
		return gate.DefaultMinInterval
	}
	return d
}

func parseKinds(names []string) ([]intent.Kind, error) {
	kinds := make([]intent.Kind, 0, len(names))
	for _, name := range names {
		switch k := intent.Kind(strings.ToLower(strings.TrimSpace(name))); k {
		case intent.Shopping, intent.Search:
			kinds = append(kinds, k)
		default:
			return nil, fmt.Errorf("%w: unknown intent %q", internalerr.ErrInvalidConfig, name)
		}
	}
	return kinds, nil
}
