// Package config handles application configuration from environment variables
// and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configPathEnv = "TRENDSCOUT_CONFIG"

// Config holds the application configuration.
type Config struct {
	DatabasePath string `yaml:"databasePath"`
	LogLevel     string `yaml:"logLevel"`

	LLM      LLMConfig      `yaml:"llm"`
	NewsAPI  NewsAPIConfig  `yaml:"newsApi"`
	Reddit   RedditConfig   `yaml:"reddit"`
	Telegram TelegramConfig `yaml:"telegram"`

	Discovery DiscoveryConfig `yaml:"discovery"`
	Features  Features        `yaml:"features"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Schedule  ScheduleConfig  `yaml:"schedule"`

	Feeds         []FeedConfig `yaml:"feeds"`
	NicheKeywords []string     `yaml:"nicheKeywords"`
	ExcludeTerms  []string     `yaml:"excludeTerms"`
}

// LLMConfig describes the OpenAI-compatible completion endpoint.
type LLMConfig struct {
	APIKey   string        `yaml:"apiKey"`
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NewsAPIConfig holds the search-article API credentials.
type NewsAPIConfig struct {
	APIKey string `yaml:"apiKey"`
}

// RedditConfig holds client-credentials OAuth settings.
type RedditConfig struct {
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
}

// TelegramConfig configures the operator bot. An empty token disables it.
type TelegramConfig struct {
	BotToken     string  `yaml:"botToken"`
	ReportChatID int64   `yaml:"reportChatId"`
	AllowedUsers []int64 `yaml:"allowedUsers"`
}

// DiscoveryConfig holds keyword admission thresholds.
type DiscoveryConfig struct {
	MinRelevance float64 `yaml:"minRelevance"`
	MaxActive    int     `yaml:"maxActive"`
}

// Features are the pipeline feature flags.
type Features struct {
	DynamicKeywords     bool `yaml:"dynamicKeywords"`
	AutoInternalLinking bool `yaml:"autoInternalLinking"`
	ContentRefresh      bool `yaml:"contentRefresh"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	SingleFlight     bool          `yaml:"singleFlight"`
	LeaseTTL         time.Duration `yaml:"leaseTtl"`
	RefreshBatchSize int           `yaml:"refreshBatchSize"`
}

// ScheduleConfig holds cron expressions for the four jobs.
type ScheduleConfig struct {
	Discovery string `yaml:"discovery"`
	Sources   string `yaml:"sources"`
	Scout     string `yaml:"scout"`
	Refresh   string `yaml:"refresh"`
}

// FeedConfig is a foundation feed seeded into the source registry.
type FeedConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Priority int    `yaml:"priority"`
}

// Default returns the built-in configuration before any file or environment
// overrides are applied.
func Default() *Config {
	return &Config{
		DatabasePath: "./data/trendscout.db",
		LogLevel:     "info",
		LLM: LLMConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
			Timeout:  60 * time.Second,
		},
		Discovery: DiscoveryConfig{
			MinRelevance: 0.6,
			MaxActive:    50,
		},
		Pipeline: PipelineConfig{
			LeaseTTL:         2 * time.Hour,
			RefreshBatchSize: 2,
		},
		Schedule: ScheduleConfig{
			Discovery: "0 3 * * *",
			Sources:   "0 4 * * 0",
			Scout:     "0 */6 * * *",
			Refresh:   "0 5 * * *",
		},
		Feeds: []FeedConfig{
			{
				Name:     "Google News (email productivity)",
				URL:      "https://news.google.com/rss/search?q=email+productivity+tips+OR+inbox+zero+strategies&hl=en-US&gl=US&ceid=US:en",
				Priority: 10,
			},
			{
				Name:     "Google News (executive time management)",
				URL:      "https://news.google.com/rss/search?q=executive+time+management+OR+business+communication+efficiency&hl=en-US&gl=US&ceid=US:en",
				Priority: 10,
			},
			{
				Name:     "Lifehacker",
				URL:      "https://lifehacker.com/rss",
				Priority: 5,
			},
		},
		NicheKeywords: []string{
			"email productivity",
			"email management",
			"inbox zero",
			"email automation",
			"time management",
			"executive productivity",
			"business communication",
			"workflow efficiency",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// TRENDSCOUT_CONFIG and environment variables, in that order of precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.DatabasePath, "DATABASE_PATH")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LLM.APIKey, "LLM_API_KEY")
	setString(&c.LLM.Endpoint, "LLM_ENDPOINT")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.NewsAPI.APIKey, "NEWS_API_KEY")
	setString(&c.Reddit.ClientID, "REDDIT_CLIENT_ID")
	setString(&c.Reddit.ClientSecret, "REDDIT_CLIENT_SECRET")
	setString(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.Schedule.Discovery, "SCHEDULE_DISCOVERY")
	setString(&c.Schedule.Sources, "SCHEDULE_SOURCES")
	setString(&c.Schedule.Scout, "SCHEDULE_SCOUT")
	setString(&c.Schedule.Refresh, "SCHEDULE_REFRESH")

	var errs []error
	errs = append(errs,
		setDuration(&c.LLM.Timeout, "LLM_TIMEOUT"),
		setDuration(&c.Pipeline.LeaseTTL, "PIPELINE_LEASE_TTL"),
		setFloat(&c.Discovery.MinRelevance, "MIN_KEYWORD_RELEVANCE_SCORE"),
		setInt(&c.Discovery.MaxActive, "MAX_ACTIVE_KEYWORDS"),
		setInt(&c.Pipeline.RefreshBatchSize, "REFRESH_BATCH_SIZE"),
		setBool(&c.Features.DynamicKeywords, "ENABLE_DYNAMIC_KEYWORDS"),
		setBool(&c.Features.AutoInternalLinking, "ENABLE_AUTO_INTERNAL_LINKING"),
		setBool(&c.Features.ContentRefresh, "ENABLE_CONTENT_REFRESH"),
		setBool(&c.Pipeline.SingleFlight, "PIPELINE_SINGLE_FLIGHT"),
	)

	if raw := os.Getenv("REPORT_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid REPORT_CHAT_ID %q: %w", raw, err))
		} else {
			c.Telegram.ReportChatID = id
		}
	}

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		var allowedUsers []int64
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err))
				continue
			}
			allowedUsers = append(allowedUsers, uid)
		}
		c.Telegram.AllowedUsers = allowedUsers
	}

	return errors.Join(errs...)
}

// Validate rejects missing credentials and out-of-range thresholds.
func (c *Config) Validate() error {
	var errs []error
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("LLM_API_KEY is required"))
	}
	if c.Discovery.MinRelevance < 0 || c.Discovery.MinRelevance > 1 {
		errs = append(errs, fmt.Errorf("MIN_KEYWORD_RELEVANCE_SCORE must be within [0,1], got %v", c.Discovery.MinRelevance))
	}
	if c.Discovery.MaxActive < 1 {
		errs = append(errs, fmt.Errorf("MAX_ACTIVE_KEYWORDS must be positive, got %d", c.Discovery.MaxActive))
	}
	if c.Pipeline.RefreshBatchSize < 1 {
		errs = append(errs, fmt.Errorf("REFRESH_BATCH_SIZE must be positive, got %d", c.Pipeline.RefreshBatchSize))
	}
	if c.Pipeline.LeaseTTL <= 0 {
		errs = append(errs, fmt.Errorf("PIPELINE_LEASE_TTL must be positive, got %s", c.Pipeline.LeaseTTL))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("LLM_TIMEOUT must be positive, got %s", c.LLM.Timeout))
	}
	return errors.Join(errs...)
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.Telegram.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.Telegram.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}
