package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig is optional. An empty URL disables the category cache.
type RedisConfig struct {
	URL         string        `yaml:"url"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	CategoryTTL time.Duration `yaml:"category_ttl"`
}

type FireflyConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Timeout       time.Duration `yaml:"timeout"` // 0 = no client timeout
}

type ClassifierConfig struct {
	Provider         string `yaml:"provider"` // openai | gemini
	APIKey           string `yaml:"api_key"`
	Model            string `yaml:"model"`
	BaseURL          string `yaml:"base_url"`
	MaxContextTokens int    `yaml:"max_context_tokens"`
}

type SearchConfig struct {
	Enabled    *bool         `yaml:"enabled"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxResults int           `yaml:"max_results"`
}

// On reports whether merchant lookups are enabled. Unset means enabled.
func (s SearchConfig) On() bool {
	return s.Enabled == nil || *s.Enabled
}

type WorkerConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	DrainDelay    time.Duration `yaml:"drain_delay"`
	MaxRetries    int           `yaml:"max_retries"`
	HistoryLimit  int           `yaml:"history_limit"`
	CompletionTag string        `yaml:"completion_tag"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // trace|debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Firefly    FireflyConfig    `yaml:"firefly"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Search     SearchConfig     `yaml:"search"`
	Worker     WorkerConfig     `yaml:"worker"`
	Log        LogConfig        `yaml:"log"`
}

// Load reads the YAML file at path, expanding ${ENV} references first.
// Only the store settings are checked here; serve calls Validate for the rest.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 4
	}
	if c.Redis.CategoryTTL <= 0 {
		c.Redis.CategoryTTL = 5 * time.Minute
	}
	c.Firefly.BaseURL = strings.TrimRight(c.Firefly.BaseURL, "/")

	if c.Classifier.Provider == "" {
		c.Classifier.Provider = "openai"
	}
	c.Classifier.Provider = strings.ToLower(c.Classifier.Provider)
	if c.Classifier.Model == "" {
		if c.Classifier.Provider == "gemini" {
			c.Classifier.Model = "gemini-2.0-flash"
		} else {
			c.Classifier.Model = "gpt-4o-mini"
		}
	}
	if c.Classifier.MaxContextTokens <= 0 {
		c.Classifier.MaxContextTokens = 400
	}

	if c.Search.Enabled == nil {
		on := true
		c.Search.Enabled = &on
	}
	if c.Search.BaseURL == "" {
		c.Search.BaseURL = "https://html.duckduckgo.com/html/"
	}
	if c.Search.Timeout <= 0 {
		c.Search.Timeout = 5 * time.Second
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = 3
	}

	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = time.Second
	}
	if c.Worker.DrainDelay < 0 {
		c.Worker.DrainDelay = 0
	}
	if c.Worker.MaxRetries <= 0 {
		c.Worker.MaxRetries = 3
	}
	if c.Worker.HistoryLimit <= 0 {
		c.Worker.HistoryLimit = 5
	}
	if c.Worker.CompletionTag == "" {
		c.Worker.CompletionTag = "AI categorized"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// ValidateStore checks what the admin commands need to reach Postgres.
func (c *Config) ValidateStore() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	return nil
}

// Validate checks the fields the service cannot start without.
func (c *Config) Validate() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.Firefly.BaseURL == "" {
		return errors.New("firefly.base_url is required")
	}
	if c.Firefly.Token == "" {
		return errors.New("firefly.token is required")
	}
	switch c.Classifier.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("classifier.provider %q is not supported", c.Classifier.Provider)
	}
	if c.Classifier.APIKey == "" {
		return errors.New("classifier.api_key is required")
	}
	return nil
}
