package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Model.BaseURL != "http://localhost:11434" {
		t.Errorf("BaseURL = %q", cfg.Model.BaseURL)
	}
	if cfg.Limits.TrailingWindow != 3 {
		t.Errorf("TrailingWindow = %d, want 3", cfg.Limits.TrailingWindow)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `model:
  base_url: http://192.168.1.10:11434
  name: qwen2.5:14b
  timeout: 600
limits:
  max_context_tokens: 16384
  trailing_window: 4
  words_per_session: 3000
  chapters_between_critiques: 2
  max_retries: 5
  digest_concurrency: 4
  rate_limit:
    requests_per_minute: 30
    burst_size: 10
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STORYSMITH_CONFIG", path)
	t.Setenv("OLLAMA_HOST", "")
	t.Setenv("STORYSMITH_MODEL", "")
	t.Setenv("STORYSMITH_DATA_DIR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Model.Name != "qwen2.5:14b" {
		t.Errorf("Name = %q", cfg.Model.Name)
	}
	if cfg.Model.TimeoutDuration() != 10*time.Minute {
		t.Errorf("Timeout = %v", cfg.Model.TimeoutDuration())
	}
	if cfg.Limits.MaxContextTokens != 16384 {
		t.Errorf("MaxContextTokens = %d", cfg.Limits.MaxContextTokens)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STORYSMITH_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")
	t.Setenv("STORYSMITH_MODEL", "mistral-nemo")
	t.Setenv("STORYSMITH_DATA_DIR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Model.BaseURL != "http://gpu-box:11434" {
		t.Errorf("BaseURL = %q, want env override", cfg.Model.BaseURL)
	}
	if cfg.Model.Name != "mistral-nemo" {
		t.Errorf("Name = %q, want env override", cfg.Model.Name)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Limits.MaxContextTokens = 10
	if err := cfg.validate(); err == nil {
		t.Error("tiny context budget should fail validation")
	}

	cfg = Default()
	cfg.Model.BaseURL = "not a url"
	if err := cfg.validate(); err == nil {
		t.Error("malformed base URL should fail validation")
	}
}
