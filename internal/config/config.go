package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed pipeline.yaml
var defaultYAML []byte

type Config struct {
	Scoring ScoringConfig `yaml:"scoring"`
	Alerts  AlertConfig   `yaml:"alerts"`
	Scan    ScanConfig    `yaml:"scan"`
	CRM     CRMConfig     `yaml:"crm"`
}

// RecencyTier penalizes deals idle for more than InactiveDays.
type RecencyTier struct {
	InactiveDays int `yaml:"inactive_days"`
	Penalty      int `yaml:"penalty"`
}

// StagnationTier penalizes deals older than AgeDays that are also idle for
// more than InactiveDays.
type StagnationTier struct {
	AgeDays      int `yaml:"age_days"`
	InactiveDays int `yaml:"inactive_days"`
	Penalty      int `yaml:"penalty"`
}

type SignalConfig struct {
	NoRecentActivityDays int `yaml:"no_recent_activity_days"`
	LowEngagementDays    int `yaml:"low_engagement_days"`
	StuckInStageDays     int `yaml:"stuck_in_stage_days"`
}

type ScoringConfig struct {
	RecencyTiers    []RecencyTier    `yaml:"recency_tiers"`
	StagnationTiers []StagnationTier `yaml:"stagnation_tiers"`
	HealthyMin      int              `yaml:"healthy_min"`
	AtRiskMin       int              `yaml:"at_risk_min"`
	Signals         SignalConfig     `yaml:"signals"`
}

type AlertConfig struct {
	CriticalBelow        int `yaml:"critical_below"`
	CooldownHours        int `yaml:"cooldown_hours"`
	ZombieCountThreshold int `yaml:"zombie_count_threshold"` // 0 disables the threshold check
}

func (a AlertConfig) Cooldown() time.Duration {
	return time.Duration(a.CooldownHours) * time.Hour
}

type ScanConfig struct {
	NotifyConcurrency int `yaml:"notify_concurrency"`
	MaxPages          int `yaml:"max_pages"`
	TimeoutSeconds    int `yaml:"timeout_seconds"`
}

func (s ScanConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type CRMConfig struct {
	Provider       string  `yaml:"provider"` // "hubspot" (default) or "fixture"
	BaseURL        string  `yaml:"base_url"`
	AuthURL        string  `yaml:"auth_url"`
	TokenURL       string  `yaml:"token_url"`
	ClientID       string  `yaml:"client_id"`
	ClientSecret   string  `yaml:"client_secret"`
	FixturePath    string  `yaml:"fixture_path,omitempty"`
	PageSize       int     `yaml:"page_size"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
}

// Load reads the embedded pipeline.yaml, or the file at path when one is
// given, expanding ${VAR} references from the environment.
func Load(path string) (*Config, error) {
	data := defaultYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		data = b
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the embedded configuration. It panics only if the embedded
// file itself is broken.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Scoring.RecencyTiers == nil {
		c.Scoring.RecencyTiers = []RecencyTier{{30, 40}, {14, 25}, {7, 10}}
	}
	if c.Scoring.StagnationTiers == nil {
		c.Scoring.StagnationTiers = []StagnationTier{{90, 14, 30}, {60, 7, 15}}
	}
	if c.Scoring.HealthyMin == 0 && c.Scoring.AtRiskMin == 0 {
		c.Scoring.HealthyMin, c.Scoring.AtRiskMin = 70, 40
	}
	if c.Scoring.Signals == (SignalConfig{}) {
		c.Scoring.Signals = SignalConfig{NoRecentActivityDays: 14, LowEngagementDays: 30, StuckInStageDays: 60}
	}
	if c.Alerts.CriticalBelow == 0 {
		c.Alerts.CriticalBelow = 30
	}
	if c.Alerts.CooldownHours == 0 {
		c.Alerts.CooldownHours = 72
	}
	if c.Scan.NotifyConcurrency <= 0 {
		c.Scan.NotifyConcurrency = 8
	}
	if c.Scan.MaxPages <= 0 {
		c.Scan.MaxPages = 500
	}
	if c.Scan.TimeoutSeconds <= 0 {
		c.Scan.TimeoutSeconds = 300
	}

	c.CRM.Provider = strings.ToLower(strings.TrimSpace(c.CRM.Provider))
	if c.CRM.Provider == "" {
		c.CRM.Provider = "hubspot"
	}
	if c.CRM.BaseURL == "" {
		c.CRM.BaseURL = "https://api.hubapi.com"
	}
	if c.CRM.TokenURL == "" {
		c.CRM.TokenURL = "https://api.hubapi.com/oauth/v1/token"
	}
	if c.CRM.PageSize <= 0 || c.CRM.PageSize > 100 {
		c.CRM.PageSize = 100
	}
	if c.CRM.TimeoutSeconds <= 0 {
		c.CRM.TimeoutSeconds = 30
	}
	if c.CRM.MaxRetries < 0 {
		c.CRM.MaxRetries = 0
	}
	if c.CRM.RateLimitRPS <= 0 {
		c.CRM.RateLimitRPS = 8
	}
}
