package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	DBDSN string

	// Routing defaults.
	DefaultGoal         string
	MaxLearningData     int
	MinSamples          int
	ConfidenceThreshold float64
	BaselineCostUSD     float64

	// Experiment analysis sweep.
	SweepIntervalSecs int

	// Provider catalog file (JSON). Empty = built-in defaults.
	ProvidersFile string

	// Security & hardening.
	CORSOrigins    []string // allowed CORS origins; empty = ["*"]
	RateLimitRPS   int      // requests per second per IP
	RateLimitBurst int      // burst capacity per IP

	// OpenTelemetry tracing.
	OTelEnabled  bool
	OTelEndpoint string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("ROUTEMIND_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("ROUTEMIND_LOG_LEVEL", "info"),
		DBDSN:      getEnv("ROUTEMIND_DB_DSN", "file:/data/routemind.sqlite"),

		DefaultGoal:         getEnv("ROUTEMIND_DEFAULT_GOAL", "balanced"),
		MaxLearningData:     getEnvInt("ROUTEMIND_MAX_LEARNING_DATA", 1000),
		MinSamples:          getEnvInt("ROUTEMIND_MIN_SAMPLES", 3),
		ConfidenceThreshold: getEnvFloat("ROUTEMIND_CONFIDENCE_THRESHOLD", 0.3),
		BaselineCostUSD:     getEnvFloat("ROUTEMIND_BASELINE_COST_USD", 0.03),

		SweepIntervalSecs: getEnvInt("ROUTEMIND_SWEEP_INTERVAL_SECS", 60),

		ProvidersFile: getEnv("ROUTEMIND_PROVIDERS_FILE", ""),

		CORSOrigins:    getEnvStringSlice("ROUTEMIND_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("ROUTEMIND_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("ROUTEMIND_RATE_LIMIT_BURST", 120),

		OTelEnabled:  getEnvBool("ROUTEMIND_OTEL_ENABLED", false),
		OTelEndpoint: getEnv("ROUTEMIND_OTEL_ENDPOINT", "localhost:4318"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("ROUTEMIND_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("ROUTEMIND_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.MaxLearningData <= 0 {
		return fmt.Errorf("ROUTEMIND_MAX_LEARNING_DATA must be > 0, got %d", c.MaxLearningData)
	}
	if c.MinSamples <= 0 {
		return fmt.Errorf("ROUTEMIND_MIN_SAMPLES must be > 0, got %d", c.MinSamples)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("ROUTEMIND_CONFIDENCE_THRESHOLD must be in [0,1], got %f", c.ConfidenceThreshold)
	}
	if c.BaselineCostUSD < 0 {
		return fmt.Errorf("ROUTEMIND_BASELINE_COST_USD must be >= 0, got %f", c.BaselineCostUSD)
	}
	if c.SweepIntervalSecs <= 0 {
		return fmt.Errorf("ROUTEMIND_SWEEP_INTERVAL_SECS must be > 0, got %d", c.SweepIntervalSecs)
	}
	switch c.DefaultGoal {
	case "cost", "speed", "quality", "balanced":
	default:
		return fmt.Errorf("ROUTEMIND_DEFAULT_GOAL must be one of cost|speed|quality|balanced, got %q", c.DefaultGoal)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
