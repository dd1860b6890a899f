package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Calibrate CalibrateConfig `yaml:"calibrate" mapstructure:"calibrate"`
	Bankfull  BankfullConfig  `yaml:"bankfull" mapstructure:"bankfull"`
	History   HistoryConfig   `yaml:"history" mapstructure:"history"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// CalibrateConfig configures the roughness calibration pass.
type CalibrateConfig struct {
	FimDir       string  `yaml:"fim_dir" mapstructure:"fim_dir"`
	ObsCSV       string  `yaml:"obs_csv" mapstructure:"obs_csv"`
	SourceTag    string  `yaml:"source_tag" mapstructure:"source_tag"`
	MergePrev    bool    `yaml:"merge_prev" mapstructure:"merge_prev"`
	DownDistKm   float64 `yaml:"down_dist_km" mapstructure:"down_dist_km"`
	RoughnessMin float64 `yaml:"roughness_min" mapstructure:"roughness_min"`
	RoughnessMax float64 `yaml:"roughness_max" mapstructure:"roughness_max"`
	Jobs         int     `yaml:"jobs" mapstructure:"jobs"`
	DebugOutputs bool    `yaml:"debug_outputs" mapstructure:"debug_outputs"`
	DebugDir     string  `yaml:"debug_dir" mapstructure:"debug_dir"`
}

// BankfullConfig configures bankfull stage identification.
type BankfullConfig struct {
	FlowsCSV string `yaml:"flows_csv" mapstructure:"flows_csv"`
	Jobs     int    `yaml:"jobs" mapstructure:"jobs"`
}

// HistoryConfig configures the run-history database.
type HistoryConfig struct {
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
	v.SetEnvPrefix("SRCADJUST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("calibrate.source_tag", "nws_lid")
	v.SetDefault("calibrate.down_dist_km", 10.0)
	v.SetDefault("calibrate.roughness_min", 0.001)
	v.SetDefault("calibrate.roughness_max", 0.6)
	v.SetDefault("calibrate.jobs", 1)
	v.SetDefault("bankfull.jobs", 1)
	v.SetDefault("history.path", "srcadjust_history.db")

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
