package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config keeps runtime settings for the task board core.
type Config struct {
	TelegramToken string
	DatabaseURL   string
	Timezone      string
	LogLevel      string

	TickInterval time.Duration
	ReviewWindow time.Duration

	Scoring ScoringConfig
}

// ScoringConfig exposes the point policy knobs.
type ScoringConfig struct {
	EarlyPoints        int `yaml:"early_points"`
	OnTimePoints       int `yaml:"ontime_points"`
	LatePoints         int `yaml:"late_points"`
	CreatorPoints      int `yaml:"creator_points"`
	CreatorBonusPoints int `yaml:"creator_bonus_points"`
	StreakBonusPoints  int `yaml:"streak_bonus_points"`
	OverduePenalty     int `yaml:"overdue_penalty"`
	// StreakThreshold is inclusive: the bonus fires at exactly this many
	// on-time hand-ins.
	StreakThreshold int `yaml:"streak_threshold"`
	// EarlyMargin has no YAML knob; a day of headroom is the fixed policy.
	EarlyMargin            time.Duration `yaml:"-"`
	BonusRequiresAllOnTime bool          `yaml:"bonus_requires_all_ontime"`
}

// fileConfig mirrors the optional YAML file layered under the env vars.
type fileConfig struct {
	TelegramToken string         `yaml:"telegram_token"`
	DatabaseURL   string         `yaml:"database_url"`
	Timezone      string         `yaml:"timezone"`
	LogLevel      string         `yaml:"log_level"`
	TickInterval  string         `yaml:"tick_interval"`
	ReviewWindow  string         `yaml:"review_window"`
	Scoring       *ScoringConfig `yaml:"scoring"`
}

func parseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// DefaultScoring is the point policy used when nothing is configured.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		EarlyPoints:            15,
		OnTimePoints:           10,
		LatePoints:             -5,
		CreatorPoints:          5,
		CreatorBonusPoints:     5,
		StreakBonusPoints:      10,
		OverduePenalty:         -10,
		StreakThreshold:        3,
		EarlyMargin:            24 * time.Hour,
		BonusRequiresAllOnTime: true,
	}
}

// Load reads configuration from an optional YAML file (CREWTASK_CONFIG) and
// environment variables, env taking precedence.
func Load() (Config, error) {
	cfg := Config{
		Timezone:     "UTC",
		LogLevel:     "info",
		TickInterval: 5 * time.Minute,
		ReviewWindow: 48 * time.Hour,
		Scoring:      DefaultScoring(),
	}

	if path := strings.TrimSpace(os.Getenv("CREWTASK_CONFIG")); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return cfg, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); v != "" {
		cfg.TelegramToken = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GROUP_TIMEZONE")); v != "" {
		cfg.Timezone = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("TICK_INTERVAL_MINUTES")); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			return cfg, fmt.Errorf("invalid TICK_INTERVAL_MINUTES %q", v)
		}
		cfg.TickInterval = time.Duration(minutes) * time.Minute
	}
	if v := strings.TrimSpace(os.Getenv("REVIEW_WINDOW_DAYS")); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			return cfg, fmt.Errorf("invalid REVIEW_WINDOW_DAYS %q", v)
		}
		cfg.ReviewWindow = time.Duration(days) * 24 * time.Hour
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "crewtask.db"
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return cfg, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	return cfg, nil
}

// Location resolves the configured group timezone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	if fc.TelegramToken != "" {
		cfg.TelegramToken = fc.TelegramToken
	}
	if fc.DatabaseURL != "" {
		cfg.DatabaseURL = fc.DatabaseURL
	}
	if fc.Timezone != "" {
		cfg.Timezone = fc.Timezone
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if d, err := parseDurationField("tick_interval", fc.TickInterval); err != nil {
		return err
	} else if d > 0 {
		cfg.TickInterval = d
	}
	if d, err := parseDurationField("review_window", fc.ReviewWindow); err != nil {
		return err
	} else if d > 0 {
		cfg.ReviewWindow = d
	}
	if fc.Scoring != nil {
		cfg.Scoring = *fc.Scoring
		cfg.Scoring.EarlyMargin = DefaultScoring().EarlyMargin
	}
	return nil
}
