// Package config loads process configuration: required environment
// variables and an optional YAML file of run tunables.
package config

import (
	"fmt"
	"os"
	"os/user"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved configuration for a single invocation of
// the ingester.
type Config struct {
	// InvestToken is the bearer token for the history-data endpoint.
	InvestToken string

	// DatabaseURL is a libpq-style connection string. If empty, one is
	// assembled from DatabaseName and the invoking OS user.
	DatabaseURL  string
	DatabaseName string

	Tunables Tunables
}

// Tunables are the knobs an operator may override via a YAML file; all
// have safe defaults so the file is optional. Durations are stored as
// plain integers in the unit named by the field, not as time.Duration,
// since Duration unmarshals from YAML as raw nanoseconds.
type Tunables struct {
	RequestTimeoutMS        int `yaml:"request_timeout_ms"`
	ExtractWorkers          int `yaml:"extract_workers"`
	SecondChancePriority    int `yaml:"second_chance_priority"`
	DefaultBucketPeriodSecs int `yaml:"default_bucket_period_secs"`
	DefaultBucketTokens     int `yaml:"default_bucket_tokens"`
}

// RequestTimeout returns the configured upstream HTTP timeout.
func (t Tunables) RequestTimeout() time.Duration {
	return time.Duration(t.RequestTimeoutMS) * time.Millisecond
}

// DefaultBucketPeriod returns the rate limiter's starting bucket period.
func (t Tunables) DefaultBucketPeriod() time.Duration {
	return time.Duration(t.DefaultBucketPeriodSecs) * time.Second
}

const defaultDatabaseName = "trading_bot"

// DefaultTunables returns the conservative starting values used before any
// response headers are learned: capacity 1, period 60s, a second-chance
// demotion offset of 10^6.
func DefaultTunables() Tunables {
	return Tunables{
		RequestTimeoutMS:        30_000,
		ExtractWorkers:          0, // 0 => runtime.NumCPU()
		SecondChancePriority:    1_000_000,
		DefaultBucketPeriodSecs: 60,
		DefaultBucketTokens:     1,
	}
}

// Load reads INVEST_TOKEN and INVEST_DATABASE_URL from the environment and,
// if tunablesPath is non-empty, merges in a YAML tunables file.
func Load(tunablesPath string) (Config, error) {
	token := os.Getenv("INVEST_TOKEN")
	if token == "" {
		return Config{}, fmt.Errorf("config: INVEST_TOKEN is required")
	}

	cfg := Config{
		InvestToken:  token,
		DatabaseURL:  os.Getenv("INVEST_DATABASE_URL"),
		DatabaseName: defaultDatabaseName,
		Tunables:     DefaultTunables(),
	}

	if cfg.DatabaseURL == "" {
		owner, err := user.Current()
		if err != nil {
			return Config{}, fmt.Errorf("config: resolve invoking user: %w", err)
		}
		cfg.DatabaseURL = fmt.Sprintf("postgres://%s@localhost/%s?sslmode=disable", owner.Username, cfg.DatabaseName)
	}

	if tunablesPath != "" {
		data, err := os.ReadFile(tunablesPath)
		if err != nil {
			return Config{}, fmt.Errorf("config: read tunables file: %w", err)
		}
		t := cfg.Tunables
		if err := yaml.Unmarshal(data, &t); err != nil {
			return Config{}, fmt.Errorf("config: parse tunables file: %w", err)
		}
		cfg.Tunables = t
	}

	if err := cfg.Tunables.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func (t Tunables) validate() error {
	if t.SecondChancePriority <= 0 {
		return fmt.Errorf("second_chance_priority must be positive, got %d", t.SecondChancePriority)
	}
	if t.DefaultBucketTokens <= 0 {
		return fmt.Errorf("default_bucket_tokens must be positive, got %d", t.DefaultBucketTokens)
	}
	if t.DefaultBucketPeriodSecs <= 0 {
		return fmt.Errorf("default_bucket_period_secs must be positive, got %d", t.DefaultBucketPeriodSecs)
	}
	return nil
}
