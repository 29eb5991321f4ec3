package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Model  ModelConfig `yaml:"model" validate:"required"`
	Paths  PathsConfig `yaml:"paths"`
	Limits Limits      `yaml:"limits" validate:"required"`
}

type ModelConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	Name    string `yaml:"name" validate:"required"`
	// Timeout is the per-request timeout in seconds. Local models can take
	// minutes on long chapters.
	Timeout int `yaml:"timeout" validate:"min=10,max=3600"`
}

// TimeoutDuration returns the request timeout as a time.Duration.
func (m ModelConfig) TimeoutDuration() time.Duration {
	return time.Duration(m.Timeout) * time.Second
}

type PathsConfig struct {
	// DataDir holds project records, change logs, and exported manuscripts.
	DataDir string `yaml:"data_dir"`
}

type Limits struct {
	MaxContextTokens         int             `yaml:"max_context_tokens" validate:"required,min=1024,max=1000000"`
	TrailingWindow           int             `yaml:"trailing_window" validate:"required,min=1,max=10"`
	WordsPerSession          int             `yaml:"words_per_session" validate:"min=0,max=100000"`
	ChaptersBetweenCritiques int             `yaml:"chapters_between_critiques" validate:"min=0,max=20"`
	MaxRetries               int             `yaml:"max_retries" validate:"min=1,max=10"`
	DigestConcurrency        int             `yaml:"digest_concurrency" validate:"min=1,max=16"`
	RateLimit                RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"min=1,max=1000"`
	BurstSize         int `yaml:"burst_size" validate:"min=1,max=100"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxContextTokens:         8192,
		TrailingWindow:           3,
		WordsPerSession:          4000,
		ChaptersBetweenCritiques: 3,
		MaxRetries:               3,
		DigestConcurrency:        2,
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			BurstSize:         5,
		},
	}
}

func Default() *Config {
	return &Config{
		Model: ModelConfig{
			BaseURL: "http://localhost:11434",
			Name:    "llama3.1:8b",
			Timeout: 900,
		},
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		Limits: DefaultLimits(),
	}
}

// Load reads configuration from the config file, falling back to defaults when
// no file exists. Environment variables override file values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	configPath := getConfigPath()
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		c.Model.BaseURL = host
	}
	if model := os.Getenv("STORYSMITH_MODEL"); model != "" {
		c.Model.Name = model
	}
	if dir := os.Getenv("STORYSMITH_DATA_DIR"); dir != "" {
		c.Paths.DataDir = dir
	}
}

func (c *Config) validate() error {
	if c.Model.Timeout == 0 {
		c.Model.Timeout = 900
	}
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = defaultDataDir()
	} else {
		c.Paths.DataDir = expandTilde(c.Paths.DataDir)
	}
	if c.Limits.MaxContextTokens == 0 {
		c.Limits = DefaultLimits()
	}

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("STORYSMITH_CONFIG"); path != "" {
		return path
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "storysmith", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "storysmith", "config.yaml")
}

func defaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "storysmith")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "storysmith")
}

// expandTilde expands a leading ~/ to the user's home directory.
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Save writes the configuration to the config file, creating the directory if
// needed.
func Save(cfg *Config) error {
	configPath := getConfigPath()
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(configPath, data, 0644)
}
