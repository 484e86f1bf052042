package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.WorkDir == "" {
		t.Error("WorkDir should not be empty")
	}
	if cfg.Search.MaxResults != 5 {
		t.Errorf("Search.MaxResults = %d, want 5", cfg.Search.MaxResults)
	}
	if cfg.Search.MinLengthMinutes != 5 {
		t.Errorf("Search.MinLengthMinutes = %d, want 5", cfg.Search.MinLengthMinutes)
	}
	if cfg.Fetch.ChunkSizeBytes != 8192 {
		t.Errorf("Fetch.ChunkSizeBytes = %d, want 8192", cfg.Fetch.ChunkSizeBytes)
	}
	if cfg.Transcribe.Tier != "small" {
		t.Errorf("Transcribe.Tier = %q, want %q", cfg.Transcribe.Tier, "small")
	}
	if cfg.Translate.Model != "gpt-4o-mini" {
		t.Errorf("Translate.Model = %q, want %q", cfg.Translate.Model, "gpt-4o-mini")
	}
	if cfg.Translate.Temperature != 0.3 {
		t.Errorf("Translate.Temperature = %v, want 0.3", cfg.Translate.Temperature)
	}
	if cfg.Synthesize.Model != "eleven_multilingual_v2" {
		t.Errorf("Synthesize.Model = %q, want %q", cfg.Synthesize.Model, "eleven_multilingual_v2")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
work_dir: /tmp/pzh-work
log_level: debug
search:
  max_results: 10
  sort_by_date: true
  language: English
fetch:
  chunk_size_bytes: 65536
  timeout: 45s
transcribe:
  backend: openai
  tier: medium
translate:
  model: gpt-4o
synthesize:
  backend: openai
  voice: nova
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.WorkDir != "/tmp/pzh-work" {
		t.Errorf("WorkDir = %q, want %q", cfg.WorkDir, "/tmp/pzh-work")
	}
	if cfg.Search.MaxResults != 10 || !cfg.Search.SortByDate || cfg.Search.Language != "English" {
		t.Errorf("Search = %+v", cfg.Search)
	}
	if cfg.Fetch.ChunkSizeBytes != 65536 {
		t.Errorf("Fetch.ChunkSizeBytes = %d, want 65536", cfg.Fetch.ChunkSizeBytes)
	}
	if cfg.Fetch.Timeout != 45*time.Second {
		t.Errorf("Fetch.Timeout = %v, want 45s", cfg.Fetch.Timeout)
	}
	if cfg.Transcribe.Backend != "openai" || cfg.Transcribe.Tier != "medium" {
		t.Errorf("Transcribe = %+v", cfg.Transcribe)
	}
	if cfg.Translate.Model != "gpt-4o" {
		t.Errorf("Translate.Model = %q, want %q", cfg.Translate.Model, "gpt-4o")
	}
	// Unset fields keep their defaults.
	if cfg.Search.MinLengthMinutes != 5 {
		t.Errorf("Search.MinLengthMinutes = %d, want default 5", cfg.Search.MinLengthMinutes)
	}
	if cfg.Synthesize.Voice != "nova" {
		t.Errorf("Synthesize.Voice = %q, want %q", cfg.Synthesize.Voice, "nova")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
work_dir: ~/pzh/work
output_dir: ~/pzh/out
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := filepath.Join(home, "pzh/work"); cfg.WorkDir != want {
		t.Errorf("WorkDir = %q, want %q", cfg.WorkDir, want)
	}
	if want := filepath.Join(home, "pzh/out"); cfg.OutputDir != want {
		t.Errorf("OutputDir = %q, want %q", cfg.OutputDir, want)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("search: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid default config", func(c *Config) {}, false},
		{"empty work dir", func(c *Config) { c.WorkDir = "" }, true},
		{"invalid log level", func(c *Config) { c.LogLevel = "invalid" }, true},
		{"invalid log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"max results zero", func(c *Config) { c.Search.MaxResults = 0 }, true},
		{"max results too large", func(c *Config) { c.Search.MaxResults = 21 }, true},
		{"max results upper bound", func(c *Config) { c.Search.MaxResults = 20 }, false},
		{"negative min length", func(c *Config) { c.Search.MinLengthMinutes = -1 }, true},
		{"zero search timeout", func(c *Config) { c.Search.Timeout = 0 }, true},
		{"zero chunk size", func(c *Config) { c.Fetch.ChunkSizeBytes = 0 }, true},
		{"zero fetch timeout", func(c *Config) { c.Fetch.Timeout = 0 }, true},
		{"unknown transcribe backend", func(c *Config) { c.Transcribe.Backend = "vosk" }, true},
		{"unknown tier", func(c *Config) { c.Transcribe.Tier = "huge" }, true},
		{"empty translate model", func(c *Config) { c.Translate.Model = "" }, true},
		{"zero translate timeout", func(c *Config) { c.Translate.Timeout = 0 }, true},
		{"unknown synthesize backend", func(c *Config) { c.Synthesize.Backend = "polly" }, true},
		{"empty voice", func(c *Config) { c.Synthesize.Voice = "" }, true},
		{"publish without endpoint", func(c *Config) { c.Publish.Enabled = true; c.Publish.Bucket = "b" }, true},
		{"publish without bucket", func(c *Config) { c.Publish.Enabled = true; c.Publish.Endpoint = "localhost:9000" }, true},
		{"publish complete", func(c *Config) {
			c.Publish.Enabled = true
			c.Publish.Endpoint = "localhost:9000"
			c.Publish.Bucket = "podcasts"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "podcast-zh", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# podcast-zh") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Search.MaxResults != 5 {
		t.Errorf("written config Search.MaxResults = %d, want 5", cfg.Search.MaxResults)
	}
	if cfg.Fetch.Timeout != 300*time.Second {
		t.Errorf("written config Fetch.Timeout = %v, want 5m0s", cfg.Fetch.Timeout)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "podcast-zh")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existing := []byte("work_dir: /custom\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existing, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existing) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLogLevel(tt.input); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLoggerJSON(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "json"

	var buf bytes.Buffer
	cfg.NewLogger(&buf).Info("hello", "stage", "Fetching")

	out := buf.String()
	if !strings.HasPrefix(out, "{") || !strings.Contains(out, `"stage":"Fetching"`) {
		t.Errorf("JSON logger output = %q", out)
	}
}

func TestLoadCredentials(t *testing.T) {
	env := map[string]string{
		EnvListenNotesKey: "ln",
		EnvOpenAIKey:      "oa",
		EnvElevenLabsKey:  "el",
	}
	creds := LoadCredentials(func(k string) string { return env[k] })

	if creds.ListenNotesKey != "ln" || creds.OpenAIKey != "oa" || creds.ElevenLabsKey != "el" {
		t.Errorf("LoadCredentials() = %+v", creds)
	}
	if creds.MinioAccessKey != "" {
		t.Errorf("MinioAccessKey = %q, want empty", creds.MinioAccessKey)
	}
}

func TestLoadDotEnv(t *testing.T) {
	tmpDir := t.TempDir()
	envPath := filepath.Join(tmpDir, ".env")
	if err := os.WriteFile(envPath, []byte("PZH_TEST_DOTENV=from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PZH_TEST_DOTENV", "")
	os.Unsetenv("PZH_TEST_DOTENV")

	if err := LoadDotEnv(envPath, filepath.Join(tmpDir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("PZH_TEST_DOTENV"); got != "from-file" {
		t.Errorf("PZH_TEST_DOTENV = %q, want %q", got, "from-file")
	}
}
