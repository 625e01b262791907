// Package config loads service settings from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidPort       = errors.New("invalid port")
	ErrInvalidLogLevel   = errors.New("invalid log level")
	ErrInvalidLogFormat  = errors.New("invalid log format")
	ErrInvalidSolver     = errors.New("invalid solver settings")
	ErrInvalidProvider   = errors.New("invalid matrix provider")
	ErrInvalidMatrix     = errors.New("invalid matrix settings")
	ErrInvalidRateLimits = errors.New("invalid rate limits")
)

type Config struct {
	Port        string  `yaml:"port" envconfig:"PORT"`
	DatabaseURL string  `yaml:"database_url" envconfig:"DATABASE_URL"`
	DBMigrate   bool    `yaml:"db_migrate" envconfig:"DB_MIGRATE"`
	RedisURL    string  `yaml:"redis_url" envconfig:"REDIS_URL"`
	RateRPS     float64 `yaml:"rate_rps" envconfig:"RATE_RPS"` // inbound requests per second per client; 0 disables
	RateBurst   int     `yaml:"rate_burst" envconfig:"RATE_BURST"`
	TrustProxy  bool    `yaml:"trust_proxy" envconfig:"TRUST_PROXY"` // key clients by X-Forwarded-For

	Log    Log    `yaml:"log" envconfig:"LOG"`
	Solver Solver `yaml:"solver" envconfig:"SOLVER"`
	Matrix Matrix `yaml:"matrix" envconfig:"MATRIX"`
}

type Log struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

type Solver struct {
	TimeLimit         time.Duration `yaml:"time_limit" envconfig:"TIME_LIMIT"`
	MaxIterations     int           `yaml:"max_iterations" envconfig:"MAX_ITERATIONS"`
	StallRounds       int           `yaml:"stall_rounds" envconfig:"STALL_ROUNDS"`
	LambdaCoefficient float64       `yaml:"lambda_coefficient" envconfig:"LAMBDA_COEFFICIENT"`
	Workers           int           `yaml:"workers" envconfig:"WORKERS"`
	// DurationFallback optimizes on durations when the provider returns no distances.
	DurationFallback bool `yaml:"duration_fallback" envconfig:"DURATION_FALLBACK"`
	BatchConcurrency int  `yaml:"batch_concurrency" envconfig:"BATCH_CONCURRENCY"`
}

type Matrix struct {
	Provider    string        `yaml:"provider" envconfig:"PROVIDER"` // osrm or haversine
	OSRMURL     string        `yaml:"osrm_url" envconfig:"OSRM_URL"`
	Profile     string        `yaml:"profile" envconfig:"PROFILE"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	MaxAttempts int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	RPS         float64       `yaml:"rps" envconfig:"RPS"`
	CacheTTL    time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"` // 0 disables the cache
	SpeedKph    float64       `yaml:"speed_kph" envconfig:"SPEED_KPH"`
}

func Default() Config {
	return Config{
		Port:      "8080",
		DBMigrate: true,
		Log:       Log{Level: "info", Format: "json"},
		Solver: Solver{
			TimeLimit:         time.Second,
			LambdaCoefficient: 0.1,
			Workers:           1,
			DurationFallback:  true,
			BatchConcurrency:  4,
		},
		Matrix: Matrix{
			Provider:    "osrm",
			OSRMURL:     "http://router.project-osrm.org",
			Profile:     "driving",
			Timeout:     10 * time.Second,
			MaxAttempts: 3,
			RPS:         1,
			CacheTTL:    time.Hour,
			SpeedKph:    50,
		},
	}
}

// Load reads .env (if present) into the environment, then applies the YAML
// file named by CONFIG_FILE and the environment on top of Default.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("%w: %q", ErrInvalidPort, c.Port)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console", "text":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Log.Format)
	}
	if c.RateRPS < 0 || c.RateBurst < 0 {
		return fmt.Errorf("%w: rps=%v burst=%d", ErrInvalidRateLimits, c.RateRPS, c.RateBurst)
	}
	s := c.Solver
	switch {
	case s.TimeLimit <= 0:
		return fmt.Errorf("%w: time limit must be positive", ErrInvalidSolver)
	case s.MaxIterations < 0, s.StallRounds < 0:
		return fmt.Errorf("%w: iteration limits must not be negative", ErrInvalidSolver)
	case s.LambdaCoefficient <= 0:
		return fmt.Errorf("%w: lambda coefficient must be positive", ErrInvalidSolver)
	case s.Workers < 1, s.BatchConcurrency < 1:
		return fmt.Errorf("%w: workers and batch concurrency must be at least 1", ErrInvalidSolver)
	}
	m := c.Matrix
	switch m.Provider {
	case "osrm":
		if m.OSRMURL == "" {
			return fmt.Errorf("%w: osrm url is required", ErrInvalidMatrix)
		}
	case "haversine":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProvider, m.Provider)
	}
	if m.Timeout <= 0 || m.MaxAttempts < 1 || m.RPS < 0 || m.CacheTTL < 0 || m.SpeedKph <= 0 {
		return fmt.Errorf("%w: timeout=%v attempts=%d rps=%v ttl=%v speed=%v", ErrInvalidMatrix, m.Timeout, m.MaxAttempts, m.RPS, m.CacheTTL, m.SpeedKph)
	}
	return nil
}
