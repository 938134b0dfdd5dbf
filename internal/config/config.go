package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/imovelink/broker-contacts/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	API     APIConfig           `yaml:"api" mapstructure:"api"`
	Delays  DelaysConfig        `yaml:"delays" mapstructure:"delays"`
	Scrape  ScrapeConfig        `yaml:"scrape" mapstructure:"scrape"`
	Output  OutputConfig        `yaml:"output" mapstructure:"output"`
	Store   StoreConfig         `yaml:"store" mapstructure:"store"`
	Targets []model.TargetRange `yaml:"targets" mapstructure:"targets"`
	Log     LogConfig           `yaml:"log" mapstructure:"log"`
}

// APIConfig holds broker API credentials and transport settings.
type APIConfig struct {
	Token        string  `yaml:"token" mapstructure:"token"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// DelayBounds is one (min, max) wait interval in seconds.
type DelayBounds struct {
	Min float64 `yaml:"min" mapstructure:"min"`
	Max float64 `yaml:"max" mapstructure:"max"`
}

// DelaysConfig holds per-category request throttling bounds. Categories left
// unset fall back to the search bounds.
type DelaysConfig struct {
	Search  DelayBounds `yaml:"search" mapstructure:"search"`
	Contact DelayBounds `yaml:"contact" mapstructure:"contact"`
	Decrypt DelayBounds `yaml:"decrypt" mapstructure:"decrypt"`
	Range   DelayBounds `yaml:"range" mapstructure:"range"`
}

// ScrapeConfig configures the retrieval pipeline.
type ScrapeConfig struct {
	Step                 int `yaml:"step" mapstructure:"step"`
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors" mapstructure:"max_consecutive_errors"`
}

// OutputConfig configures the CSV destination.
type OutputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// StoreConfig configures the run-history database.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. The token default registers the key so AutomaticEnv can
	// populate it during Unmarshal.
	v.SetDefault("api.token", "")
	v.SetDefault("api.base_url", "https://api-prd.brokers.eemovel.com.br")
	v.SetDefault("api.rate_limit_rps", 2.0)
	v.SetDefault("delays.search.min", 1)
	v.SetDefault("delays.search.max", 3)
	v.SetDefault("delays.contact.min", 1)
	v.SetDefault("delays.contact.max", 3)
	v.SetDefault("delays.decrypt.min", 1)
	v.SetDefault("delays.decrypt.max", 2)
	v.SetDefault("delays.range.min", 2)
	v.SetDefault("delays.range.max", 6)
	v.SetDefault("scrape.step", 10)
	v.SetDefault("scrape.max_consecutive_errors", 5)
	v.SetDefault("output.dir", ".")
	v.SetDefault("store.path", "broker_contacts.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
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
