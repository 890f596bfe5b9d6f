// Package config loads harvester configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig marks configuration errors that must abort startup.
var ErrInvalidConfig = errors.New("invalid configuration")

// dateLayout is the accepted format for from/to values.
const dateLayout = "2006-01-02"

// Config is the harvester run configuration. Every field can come from
// the YAML file or a HARVEST_* environment variable; the environment
// wins.
type Config struct {
	// BaseURL is the site root, e.g. https://api.stackoverflowteams.com
	// or an Enterprise host.
	BaseURL string `yaml:"base_url"`

	// Token is the API bearer token.
	Token string `yaml:"token"`

	// TeamSlug scopes hosted Teams sites. Empty for Enterprise.
	TeamSlug string `yaml:"team_slug"`

	// Key and AccessToken authenticate legacy endpoint calls where the
	// deployment requires query parameter auth.
	Key         string `yaml:"key"`
	AccessToken string `yaml:"access_token"`

	// Mode selects the report shape: user or question.
	Mode string `yaml:"mode"`

	// ParticipantsOnly filters the user report to active users.
	ParticipantsOnly bool `yaml:"participants_only"`

	// From/To bound the user creation-date filter (YYYY-MM-DD), or
	// DatePreset picks a rolling window: week, month, quarter, year.
	From       string `yaml:"from"`
	To         string `yaml:"to"`
	DatePreset string `yaml:"date_preset"`

	// Output is the report file path. Empty writes to stdout.
	Output string `yaml:"output"`

	// RedisAddr enables the lookup cache when set.
	RedisAddr string `yaml:"redis_addr"`

	// LogLevel sets the zerolog level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// MaxRateLimitWait caps per-call 429 waiting. Zero waits forever.
	MaxRateLimitWait time.Duration `yaml:"max_rate_limit_wait"`

	// Quota overrides the published API quota. Zero fields keep defaults.
	Quota QuotaConfig `yaml:"quota"`

	// MaxConcurrency overrides the batch worker ceiling.
	MaxConcurrency int `yaml:"max_concurrency"`
}

// QuotaConfig mirrors the rate governor parameters.
type QuotaConfig struct {
	BurstRequests        int           `yaml:"burst_requests"`
	BurstWindow          time.Duration `yaml:"burst_window"`
	BucketMax            int           `yaml:"bucket_max"`
	BucketRefillRate     int           `yaml:"bucket_refill_rate"`
	BucketRefillInterval time.Duration `yaml:"bucket_refill_interval"`
}

// Load reads the YAML file at path (skipped when empty), applies
// environment overrides, and fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Mode == "" {
		cfg.Mode = "user"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(target *string, key string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}

	setString(&cfg.BaseURL, "HARVEST_BASE_URL")
	setString(&cfg.Token, "HARVEST_TOKEN")
	setString(&cfg.TeamSlug, "HARVEST_TEAM_SLUG")
	setString(&cfg.Key, "HARVEST_KEY")
	setString(&cfg.AccessToken, "HARVEST_ACCESS_TOKEN")
	setString(&cfg.Mode, "HARVEST_MODE")
	setString(&cfg.From, "HARVEST_FROM")
	setString(&cfg.To, "HARVEST_TO")
	setString(&cfg.DatePreset, "HARVEST_DATE_PRESET")
	setString(&cfg.Output, "HARVEST_OUTPUT")
	setString(&cfg.RedisAddr, "HARVEST_REDIS_ADDR")
	setString(&cfg.LogLevel, "HARVEST_LOG_LEVEL")

	setInt := func(target *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*target = n
			}
		}
	}
	setDuration := func(target *time.Duration, key string) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*target = d
			}
		}
	}

	setInt(&cfg.MaxConcurrency, "HARVEST_MAX_CONCURRENCY")
	setInt(&cfg.Quota.BurstRequests, "HARVEST_BURST_REQUESTS")
	setInt(&cfg.Quota.BucketMax, "HARVEST_BUCKET_MAX")
	setInt(&cfg.Quota.BucketRefillRate, "HARVEST_BUCKET_REFILL_RATE")
	setDuration(&cfg.Quota.BurstWindow, "HARVEST_BURST_WINDOW")
	setDuration(&cfg.Quota.BucketRefillInterval, "HARVEST_BUCKET_REFILL_INTERVAL")
	setDuration(&cfg.MaxRateLimitWait, "HARVEST_MAX_RATE_LIMIT_WAIT")

	if v := os.Getenv("HARVEST_PARTICIPANTS_ONLY"); v == "true" || v == "1" {
		cfg.ParticipantsOnly = true
	}
}

// Validate checks the fields a run cannot start without.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base_url is required", ErrInvalidConfig)
	}
	if c.Token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidConfig)
	}
	if c.Mode != "user" && c.Mode != "question" {
		return fmt.Errorf("%w: mode must be user or question, got %q", ErrInvalidConfig, c.Mode)
	}
	if c.DatePreset != "" && (c.From != "" || c.To != "") {
		return fmt.Errorf("%w: date_preset and from/to are mutually exclusive", ErrInvalidConfig)
	}
	if (c.From == "") != (c.To == "") {
		return fmt.Errorf("%w: from and to must be set together", ErrInvalidConfig)
	}
	return nil
}

// Window resolves the creation-date filter relative to now. ok is false
// when no filter is configured.
func (c *Config) Window(now time.Time) (from, to time.Time, ok bool, err error) {
	switch c.DatePreset {
	case "":
	case "week":
		return now.AddDate(0, 0, -7), now, true, nil
	case "month":
		return now.AddDate(0, -1, 0), now, true, nil
	case "quarter":
		return now.AddDate(0, -3, 0), now, true, nil
	case "year":
		return now.AddDate(-1, 0, 0), now, true, nil
	default:
		return time.Time{}, time.Time{}, false,
			fmt.Errorf("%w: unknown date preset %q", ErrInvalidConfig, c.DatePreset)
	}

	if c.From == "" && c.To == "" {
		return time.Time{}, time.Time{}, false, nil
	}

	from, err = time.Parse(dateLayout, c.From)
	if err != nil {
		return time.Time{}, time.Time{}, false,
			fmt.Errorf("%w: from %q: must be YYYY-MM-DD", ErrInvalidConfig, c.From)
	}
	to, err = time.Parse(dateLayout, c.To)
	if err != nil {
		return time.Time{}, time.Time{}, false,
			fmt.Errorf("%w: to %q: must be YYYY-MM-DD", ErrInvalidConfig, c.To)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, false,
			fmt.Errorf("%w: to %s precedes from %s", ErrInvalidConfig, c.To, c.From)
	}
	return from, to, true, nil
}
