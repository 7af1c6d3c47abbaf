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

// Config captures the settings required to boot the responder service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Correlator CorrelatorConfig `yaml:"correlator"`
	Engines    EnginesConfig    `yaml:"engines"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Adapters   AdaptersConfig   `yaml:"adapters"`
	Logging    LoggingConfig    `yaml:"logging"`
	Rules      RulesConfig      `yaml:"rules"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// StoreConfig controls the bbolt-backed incident store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// CorrelatorConfig holds correlation policy knobs. Window length is policy,
// not mechanism, so it lives in configuration rather than a constant.
type CorrelatorConfig struct {
	Window        time.Duration `yaml:"window"`
	Shards        int           `yaml:"shards"`
	QueueDepth    int           `yaml:"queueDepth"`
	MaxAnalysis   int           `yaml:"maxAnalysisRetries"`
	RetryInterval time.Duration `yaml:"retryInterval"`
	MinConfidence float64       `yaml:"minConfidence"`
}

// EnginesConfig controls the analysis engine pool.
type EnginesConfig struct {
	PoolDeadline  time.Duration `yaml:"poolDeadline"`
	EngineTimeout time.Duration `yaml:"engineTimeout"`
	Weights       WeightsConfig `yaml:"weights"`
}

// WeightsConfig holds the static per-engine reliability coefficients used by
// fusion. The coefficients need not sum to 1; engine count is itself a signal.
type WeightsConfig struct {
	RuleBased float64 `yaml:"ruleBased"`
	Pattern   float64 `yaml:"pattern"`
	Forecast  float64 `yaml:"forecast"`
	Platform  float64 `yaml:"platform"`
}

// DispatchConfig controls action execution retries.
type DispatchConfig struct {
	MaxAttempts     int           `yaml:"maxAttempts"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
	MaxElapsed      time.Duration `yaml:"maxElapsed"`
}

// AdaptersConfig groups outbound target systems.
type AdaptersConfig struct {
	Tracker  AdapterEndpoint `yaml:"tracker"`
	Review   AdapterEndpoint `yaml:"review"`
	Chat     AdapterEndpoint `yaml:"chat"`
	Pipeline AdapterEndpoint `yaml:"pipeline"`
}

// AdapterEndpoint configures one outbound HTTP adapter.
type AdapterEndpoint struct {
	BaseURL string        `yaml:"baseURL"`
	Token   string        `yaml:"token"`
	Repo    string        `yaml:"repo"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls rule-pack loading for the rule-based engine.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("RESPONDER_CONFIG")
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
		Store: StoreConfig{Path: "data/responder.db"},
		Correlator: CorrelatorConfig{
			Window:        5 * time.Minute,
			Shards:        16,
			QueueDepth:    256,
			MaxAnalysis:   3,
			RetryInterval: 15 * time.Second,
			MinConfidence: 0.3,
		},
		Engines: EnginesConfig{
			PoolDeadline:  10 * time.Second,
			EngineTimeout: 5 * time.Second,
			Weights: WeightsConfig{
				RuleBased: 0.5,
				Pattern:   0.55,
				Forecast:  0.45,
				Platform:  0.8,
			},
		},
		Dispatch: DispatchConfig{
			MaxAttempts:     4,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			MaxElapsed:      time.Minute,
		},
		Adapters: AdaptersConfig{
			Tracker:  AdapterEndpoint{Timeout: 5 * time.Second},
			Review:   AdapterEndpoint{Timeout: 5 * time.Second},
			Chat:     AdapterEndpoint{Timeout: 5 * time.Second},
			Pipeline: AdapterEndpoint{Timeout: 10 * time.Second},
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
	}
}

func validate(cfg *Config) error {
	if cfg.Correlator.Window <= 0 {
		return fmt.Errorf("correlator.window must be positive")
	}
	if cfg.Correlator.Shards <= 0 {
		return fmt.Errorf("correlator.shards must be positive")
	}
	if cfg.Correlator.MinConfidence < 0 || cfg.Correlator.MinConfidence > 1 {
		return fmt.Errorf("correlator.minConfidence must be in [0,1]")
	}
	if cfg.Engines.PoolDeadline <= 0 {
		return fmt.Errorf("engines.poolDeadline must be positive")
	}
	if cfg.Dispatch.MaxAttempts <= 0 {
		return fmt.Errorf("dispatch.maxAttempts must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RESPONDER_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("RESPONDER_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("RESPONDER_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("RESPONDER_CORRELATION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Correlator.Window = d
		}
	}
	if v := os.Getenv("RESPONDER_CORRELATOR_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Correlator.Shards = n
		}
	}
	if v := os.Getenv("RESPONDER_MAX_ANALYSIS_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Correlator.MaxAnalysis = n
		}
	}
	if v := os.Getenv("RESPONDER_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Correlator.MinConfidence = f
		}
	}
	if v := os.Getenv("RESPONDER_POOL_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engines.PoolDeadline = d
		}
	}
	if v := os.Getenv("RESPONDER_ENGINE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engines.EngineTimeout = d
		}
	}
	if v := os.Getenv("RESPONDER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RESPONDER_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("RESPONDER_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("RESPONDER_TRACKER_URL"); v != "" {
		cfg.Adapters.Tracker.BaseURL = v
	}
	if v := os.Getenv("RESPONDER_TRACKER_TOKEN"); v != "" {
		cfg.Adapters.Tracker.Token = v
	}
	if v := os.Getenv("RESPONDER_REVIEW_URL"); v != "" {
		cfg.Adapters.Review.BaseURL = v
	}
	if v := os.Getenv("RESPONDER_REVIEW_TOKEN"); v != "" {
		cfg.Adapters.Review.Token = v
	}
	if v := os.Getenv("RESPONDER_CHAT_WEBHOOK"); v != "" {
		cfg.Adapters.Chat.BaseURL = v
	}
	if v := os.Getenv("RESPONDER_PIPELINE_URL"); v != "" {
		cfg.Adapters.Pipeline.BaseURL = v
	}
	if v := os.Getenv("RESPONDER_PIPELINE_TOKEN"); v != "" {
		cfg.Adapters.Pipeline.Token = v
	}
	if v := os.Getenv("RESPONDER_DISPATCH_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.MaxAttempts = n
		}
	}
	if v := os.Getenv("RESPONDER_ENGINE_WEIGHTS"); v != "" {
		applyWeightOverrides(&cfg.Engines.Weights, v)
	}
}

// applyWeightOverrides parses "rule=0.5,pattern=0.6" style overrides.
func applyWeightOverrides(w *WeightsConfig, raw string) {
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		f, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			continue
		}
		switch strings.ToLower(parts[0]) {
		case "rule", "rulebased":
			w.RuleBased = f
		case "pattern":
			w.Pattern = f
		case "forecast":
			w.Forecast = f
		case "platform":
			w.Platform = f
		}
	}
}
