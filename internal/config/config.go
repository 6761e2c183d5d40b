package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the self-healing engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Anomaly     AnomalyConfig     `yaml:"anomaly"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Incidents   IncidentConfig    `yaml:"incidents"`
	Healing     HealingConfig     `yaml:"healing"`
	Cache       CacheConfig       `yaml:"cache"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// PipelineConfig controls the recurring processing cycle.
type PipelineConfig struct {
	Interval        time.Duration `yaml:"interval"`
	SampleQueueSize int           `yaml:"sampleQueueSize"`
	AlertQueueSize  int           `yaml:"alertQueueSize"`
	RetrainInterval time.Duration `yaml:"retrainInterval"`
	RetrainSamples  int           `yaml:"retrainSamples"`
}

// AnomalyConfig tunes the two detection strategies.
type AnomalyConfig struct {
	BaselineCapacity    int     `yaml:"baselineCapacity"`
	MinSamples          int     `yaml:"minSamples"`
	Contamination       float64 `yaml:"contamination"`
	Trees               int     `yaml:"trees"`
	Subsample           int     `yaml:"subsample"`
	ForecastConfidence  float64 `yaml:"forecastConfidence"`
	ConsecutiveBreaches int     `yaml:"consecutiveBreaches"`
	SeasonalityPeriod   int     `yaml:"seasonalityPeriod"`
}

// CorrelationConfig tunes alert clustering and noise suppression.
type CorrelationConfig struct {
	SimilarityThreshold  float64       `yaml:"similarityThreshold"`
	SuppressionThreshold float64       `yaml:"suppressionThreshold"`
	Window               time.Duration `yaml:"window"`
	SuppressionCooldown  time.Duration `yaml:"suppressionCooldown"`
	OpenSingleton        bool          `yaml:"openSingleton"`
}

// IncidentConfig tunes incident lifecycle management.
type IncidentConfig struct {
	QuietPeriod time.Duration `yaml:"quietPeriod"`
	Retention   time.Duration `yaml:"retention"`
}

// HealingConfig controls the self-healing rule engine.
type HealingConfig struct {
	RulesPath       string        `yaml:"rulesPath"`
	ExecutorTimeout time.Duration `yaml:"executorTimeout"`
	HistoryLimit    int           `yaml:"historyLimit"`
}

// CacheConfig controls the optional Redis-backed cache used for
// cross-instance cooldown guards and query caching.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	QueryTTL     time.Duration `yaml:"queryTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SENTINEL_HEAL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Pipeline: PipelineConfig{
			Interval:        30 * time.Second,
			SampleQueueSize: 4096,
			AlertQueueSize:  1024,
			RetrainInterval: 24 * time.Hour,
			RetrainSamples:  500,
		},
		Anomaly: AnomalyConfig{
			BaselineCapacity:    1000,
			MinSamples:          30,
			Contamination:       0.10,
			Trees:               100,
			Subsample:           256,
			ForecastConfidence:  0.95,
			ConsecutiveBreaches: 3,
			SeasonalityPeriod:   0,
		},
		Correlation: CorrelationConfig{
			SimilarityThreshold:  0.7,
			SuppressionThreshold: 0.95,
			Window:               15 * time.Minute,
			SuppressionCooldown:  5 * time.Minute,
			OpenSingleton:        true,
		},
		Incidents: IncidentConfig{
			QuietPeriod: 30 * time.Minute,
			Retention:   24 * time.Hour,
		},
		Healing: HealingConfig{
			RulesPath:       "configs/healing/default.yaml",
			ExecutorTimeout: 30 * time.Second,
			HistoryLimit:    2048,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			QueryTTL:     15 * time.Second,
		},
	}
}

func validate(cfg *Config) error {
	if cfg.Anomaly.Contamination <= 0 || cfg.Anomaly.Contamination >= 0.5 {
		return fmt.Errorf("anomaly.contamination must be in (0, 0.5), got %v", cfg.Anomaly.Contamination)
	}
	if cfg.Anomaly.ForecastConfidence <= 0 || cfg.Anomaly.ForecastConfidence >= 1 {
		return fmt.Errorf("anomaly.forecastConfidence must be in (0, 1), got %v", cfg.Anomaly.ForecastConfidence)
	}
	if cfg.Correlation.SimilarityThreshold <= 0 || cfg.Correlation.SimilarityThreshold > 1 {
		return fmt.Errorf("correlation.similarityThreshold must be in (0, 1], got %v", cfg.Correlation.SimilarityThreshold)
	}
	if cfg.Pipeline.Interval <= 0 {
		return fmt.Errorf("pipeline.interval must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_HEAL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SENTINEL_HEAL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SENTINEL_HEAL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENTINEL_HEAL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SENTINEL_HEAL_PIPELINE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.Interval = d
		}
	}
	if v := os.Getenv("SENTINEL_HEAL_RETRAIN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.RetrainInterval = d
		}
	}
	if v := os.Getenv("SENTINEL_HEAL_MIN_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Anomaly.MinSamples = n
		}
	}
	if v := os.Getenv("SENTINEL_HEAL_CONTAMINATION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Anomaly.Contamination = f
		}
	}
	if v := os.Getenv("SENTINEL_HEAL_FORECAST_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Anomaly.ForecastConfidence = f
		}
	}
	if v := os.Getenv("SENTINEL_HEAL_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Correlation.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("SENTINEL_HEAL_CORRELATION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Correlation.Window = d
		}
	}
	if v := os.Getenv("SENTINEL_HEAL_QUIET_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Incidents.QuietPeriod = d
		}
	}
	if v := os.Getenv("SENTINEL_HEAL_RULES_PATH"); v != "" {
		cfg.Healing.RulesPath = v
	}
	if v := os.Getenv("SENTINEL_HEAL_EXECUTOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Healing.ExecutorTimeout = d
		}
	}
	if v := os.Getenv("SENTINEL_HEAL_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SENTINEL_HEAL_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("SENTINEL_HEAL_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("SENTINEL_HEAL_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("SENTINEL_HEAL_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
}
