// Package config loads geoenrich settings from config.yaml and GEOENRICH_*
// environment variables.
package config

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/geoenrich/internal/area"
	"github.com/sells-group/geoenrich/internal/merge"
	"github.com/sells-group/geoenrich/internal/model"
	"github.com/sells-group/geoenrich/internal/temporal"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Feed       FeedConfig       `yaml:"feed" mapstructure:"feed"`
	Areas      AreasConfig      `yaml:"areas" mapstructure:"areas"`
	Normalize  NormalizeConfig  `yaml:"normalize" mapstructure:"normalize"`
	Match      MatchConfig      `yaml:"match" mapstructure:"match"`
	Features   FeaturesConfig   `yaml:"features" mapstructure:"features"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Auxiliary  []merge.AuxTable `yaml:"auxiliary" mapstructure:"auxiliary"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the dataset store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`

	// ConnectAttempts bounds retries of the initial postgres ping.
	ConnectAttempts int `yaml:"connect_attempts" mapstructure:"connect_attempts"`
}

// TransactionFeed names one transaction dataset and the property type its
// rows default to.
type TransactionFeed struct {
	Dataset      string `yaml:"dataset" mapstructure:"dataset"`
	PropertyType string `yaml:"property_type" mapstructure:"property_type"`
}

// FeedConfig locates the raw input datasets.
type FeedConfig struct {
	Dir          string            `yaml:"dir" mapstructure:"dir"`
	Transactions []TransactionFeed `yaml:"transactions" mapstructure:"transactions"`
	References   string            `yaml:"references" mapstructure:"references"`
	Amenities    string            `yaml:"amenities" mapstructure:"amenities"`
}

// AreasConfig locates the administrative boundary file.
type AreasConfig struct {
	Path      string `yaml:"path" mapstructure:"path"`
	NameField string `yaml:"name_field" mapstructure:"name_field"`
	Order     string `yaml:"order" mapstructure:"order"`
}

// NormalizeConfig points at an optional substitution rule file.
type NormalizeConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// MatchConfig tunes fuzzy address matching.
type MatchConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
}

// FeaturesConfig selects amenity categories and count radii in meters.
type FeaturesConfig struct {
	Radii      []float64 `yaml:"radii" mapstructure:"radii"`
	Categories []string  `yaml:"categories" mapstructure:"categories"`
}

// TemporalConfig configures period buckets and price tiers.
type TemporalConfig struct {
	BucketWidth  int       `yaml:"bucket_width" mapstructure:"bucket_width"`
	TierSplit    []float64 `yaml:"tier_split" mapstructure:"tier_split"`
	MinGroupSize int       `yaml:"min_group_size" mapstructure:"min_group_size"`
}

// Segmenter converts the settings to a temporal.Config. A malformed split is
// left zero so Validate rejects it.
func (t TemporalConfig) Segmenter() temporal.Config {
	cfg := temporal.Config{BucketWidth: t.BucketWidth, MinGroupSize: t.MinGroupSize}
	if len(t.TierSplit) == 2 {
		cfg.Split = [2]float64{t.TierSplit[0], t.TierSplit[1]}
	}
	return cfg
}

// PipelineConfig configures parallelism.
type PipelineConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// WorkerCount returns Workers, or the CPU count when unset.
func (p PipelineConfig) WorkerCount() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.NumCPU()
}

// ServerConfig configures the table API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig holds run-quality alert thresholds. A zero threshold is
// disabled.
type MonitoringConfig struct {
	WebhookURL         string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	MinMatchRate       float64 `yaml:"min_match_rate" mapstructure:"min_match_rate"`
	MaxUnassignedRate  float64 `yaml:"max_unassigned_rate" mapstructure:"max_unassigned_rate"`
	MinCoveragePercent float64 `yaml:"min_coverage_percent" mapstructure:"min_coverage_percent"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GEOENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "geoenrich.db")
	v.SetDefault("store.schema", "geoenrich")
	v.SetDefault("store.connect_attempts", 3)
	v.SetDefault("feed.dir", "data")
	v.SetDefault("feed.transactions", []map[string]any{
		{"dataset": "hdb_resale", "property_type": string(model.ResidentialPublic)},
		{"dataset": "private_transactions", "property_type": string(model.ResidentialPrivate)},
		{"dataset": "ec_transactions", "property_type": string(model.ResidentialExecutive)},
	})
	v.SetDefault("feed.references", "geocoded_references")
	v.SetDefault("feed.amenities", "amenities")
	v.SetDefault("areas.name_field", "PLN_AREA_N")
	v.SetDefault("areas.order", string(area.OrderSource))
	v.SetDefault("match.threshold", 0.85)
	v.SetDefault("features.radii", []float64{500, 1000, 2000})
	v.SetDefault("features.categories", []string{"hawker_centre", "mrt_station", "primary_school", "park", "supermarket"})
	v.SetDefault("temporal.bucket_width", temporal.DefaultBucketWidth)
	v.SetDefault("temporal.tier_split", []float64{temporal.DefaultSplit[0], temporal.DefaultSplit[1]})
	v.SetDefault("temporal.min_group_size", temporal.DefaultMinGroupSize)
	v.SetDefault("pipeline.workers", 0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.min_match_rate", 0.8)
	v.SetDefault("monitoring.max_unassigned_rate", 0.05)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of run, match,
// report or serve.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres", "memory":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite, postgres or memory", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres")
	}

	switch mode {
	case "run":
		errs = append(errs, c.validateMatch()...)
		errs = append(errs, c.validateFeed()...)
		errs = append(errs, c.validateFeatures()...)
		if err := c.Temporal.Segmenter().Validate(); err != nil {
			errs = append(errs, err.Error())
		}
		if _, err := area.ParseOrdering(c.Areas.Order); err != nil {
			errs = append(errs, err.Error())
		}
		errs = append(errs, c.validateMonitoring()...)
	case "match":
		errs = append(errs, c.validateMatch()...)
		if c.Feed.References == "" {
			errs = append(errs, "feed.references is required")
		}
	case "report":
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateMatch() []string {
	if c.Match.Threshold <= 0 || c.Match.Threshold > 1 {
		return []string{fmt.Sprintf("match.threshold %v must be in (0, 1]", c.Match.Threshold)}
	}
	return nil
}

func (c *Config) validateFeed() []string {
	var errs []string
	if len(c.Feed.Transactions) == 0 {
		errs = append(errs, "feed.transactions must name at least one dataset")
	}
	seen := make(map[string]bool)
	for i, tf := range c.Feed.Transactions {
		if tf.Dataset == "" {
			errs = append(errs, fmt.Sprintf("feed.transactions[%d].dataset is required", i))
		} else if seen[tf.Dataset] {
			errs = append(errs, fmt.Sprintf("feed.transactions[%d].dataset %q is listed twice", i, tf.Dataset))
		}
		seen[tf.Dataset] = true
		if _, err := model.ParsePropertyType(tf.PropertyType); err != nil {
			errs = append(errs, fmt.Sprintf("feed.transactions[%d].property_type: %v", i, err))
		}
	}
	if c.Feed.References == "" {
		errs = append(errs, "feed.references is required")
	}
	if c.Feed.Amenities == "" {
		errs = append(errs, "feed.amenities is required")
	}
	return errs
}

func (c *Config) validateMonitoring() []string {
	var errs []string
	m := c.Monitoring
	if m.MinMatchRate < 0 || m.MinMatchRate > 1 {
		errs = append(errs, fmt.Sprintf("monitoring.min_match_rate %v must be in [0, 1]", m.MinMatchRate))
	}
	if m.MaxUnassignedRate < 0 || m.MaxUnassignedRate > 1 {
		errs = append(errs, fmt.Sprintf("monitoring.max_unassigned_rate %v must be in [0, 1]", m.MaxUnassignedRate))
	}
	if m.MinCoveragePercent < 0 || m.MinCoveragePercent > 100 {
		errs = append(errs, fmt.Sprintf("monitoring.min_coverage_percent %v must be in [0, 100]", m.MinCoveragePercent))
	}
	return errs
}

func (c *Config) validateFeatures() []string {
	var errs []string
	if len(c.Features.Categories) == 0 {
		errs = append(errs, "features.categories must name at least one category")
	}
	if len(c.Features.Radii) == 0 {
		errs = append(errs, "features.radii must name at least one radius")
	}
	radii := append([]float64(nil), c.Features.Radii...)
	sort.Float64s(radii)
	for i, r := range radii {
		if r <= 0 {
			errs = append(errs, fmt.Sprintf("features.radii: %v must be > 0", r))
		}
		if i > 0 && r == radii[i-1] {
			errs = append(errs, fmt.Sprintf("features.radii: %v is listed twice", r))
		}
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
