package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	WorkDir    string           `yaml:"work_dir"`
	OutputDir  string           `yaml:"output_dir"`
	KeepAudio  bool             `yaml:"keep_audio"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // "text" or "json"
	Search     SearchConfig     `yaml:"search"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Translate  TranslateConfig  `yaml:"translate"`
	Synthesize SynthesizeConfig `yaml:"synthesize"`
	Server     ServerConfig     `yaml:"server"`
	Publish    PublishConfig    `yaml:"publish"`
}

// SearchConfig holds episode search settings.
type SearchConfig struct {
	BaseURL          string        `yaml:"base_url"`
	FeedURL          string        `yaml:"feed_url"` // when set, search this RSS feed instead of the API
	MaxResults       int           `yaml:"max_results"`
	MinLengthMinutes int           `yaml:"min_length_minutes"`
	SortByDate       bool          `yaml:"sort_by_date"`
	Language         string        `yaml:"language"`
	Region           string        `yaml:"region"`
	Timeout          time.Duration `yaml:"timeout"`
	ValidateKey      bool          `yaml:"validate_key"`
}

// FetchConfig holds audio download settings.
type FetchConfig struct {
	ChunkSizeBytes int           `yaml:"chunk_size_bytes"`
	Timeout        time.Duration `yaml:"timeout"`
}

// TranscribeConfig holds speech-to-text settings.
type TranscribeConfig struct {
	Backend       string `yaml:"backend"` // "whisper" or "openai"
	Tier          string `yaml:"tier"`
	WhisperBinary string `yaml:"whisper_binary"`
	Language      string `yaml:"language"`
	WriteSideFile bool   `yaml:"write_side_file"`
	OpenAIModel   string `yaml:"openai_model"`
}

// TranslateConfig holds chat-completion translation settings.
type TranslateConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SynthesizeConfig holds text-to-speech settings.
type SynthesizeConfig struct {
	Backend string        `yaml:"backend"` // "elevenlabs" or "openai"
	BaseURL string        `yaml:"base_url"`
	Voice   string        `yaml:"voice"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// ServerConfig holds web front end settings.
type ServerConfig struct {
	Addr          string `yaml:"addr"`
	MaxUploadMB   int64  `yaml:"max_upload_mb"`
	AllowedOrigin string `yaml:"allowed_origin"`
}

// PublishConfig holds optional object storage settings for finished artifacts.
type PublishConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	UseSSL   bool   `yaml:"use_ssl"`
	Prefix   string `yaml:"prefix"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "podcast-zh")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		WorkDir:   filepath.Join(os.TempDir(), "podcast-zh"),
		OutputDir: ".",
		LogLevel:  "info",
		LogFormat: "text",
		Search: SearchConfig{
			BaseURL:          "https://listen-api.listennotes.com/api/v2",
			MaxResults:       5,
			MinLengthMinutes: 5,
			Timeout:          30 * time.Second,
		},
		Fetch: FetchConfig{
			ChunkSizeBytes: 8192,
			Timeout:        300 * time.Second,
		},
		Transcribe: TranscribeConfig{
			Backend:       "whisper",
			Tier:          "small",
			WhisperBinary: "whisper",
			Language:      "en",
			WriteSideFile: true,
			OpenAIModel:   "whisper-1",
		},
		Translate: TranslateConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			Timeout:     120 * time.Second,
		},
		Synthesize: SynthesizeConfig{
			Backend: "elevenlabs",
			BaseURL: "https://api.elevenlabs.io",
			Voice:   "4VZIsMPtgggwNg7OXbPY",
			Model:   "eleven_multilingual_v2",
			Timeout: 300 * time.Second,
		},
		Server: ServerConfig{
			Addr:        "127.0.0.1:8080",
			MaxUploadMB: 500,
		},
		Publish: PublishConfig{
			Region: "us-east-1",
			Prefix: "podcast-zh/",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in work_dir and output_dir is expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.WorkDir = expandTilde(cfg.WorkDir)
	cfg.OutputDir = expandTilde(cfg.OutputDir)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return fmt.Errorf("work_dir must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	if c.Search.MaxResults < 1 || c.Search.MaxResults > 20 {
		return fmt.Errorf("search.max_results must be between 1 and 20, got %d", c.Search.MaxResults)
	}
	if c.Search.MinLengthMinutes < 0 {
		return fmt.Errorf("search.min_length_minutes must be >= 0")
	}
	if c.Search.Timeout <= 0 {
		return fmt.Errorf("search.timeout must be > 0")
	}

	if c.Fetch.ChunkSizeBytes <= 0 {
		return fmt.Errorf("fetch.chunk_size_bytes must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}

	switch c.Transcribe.Backend {
	case "whisper", "openai":
	default:
		return fmt.Errorf("transcribe.backend must be \"whisper\" or \"openai\", got %q", c.Transcribe.Backend)
	}
	switch c.Transcribe.Tier {
	case "tiny", "base", "small", "medium", "large":
	default:
		return fmt.Errorf("transcribe.tier must be tiny, base, small, medium, or large, got %q", c.Transcribe.Tier)
	}

	if c.Translate.Model == "" {
		return fmt.Errorf("translate.model must not be empty")
	}
	if c.Translate.Timeout <= 0 {
		return fmt.Errorf("translate.timeout must be > 0")
	}

	switch c.Synthesize.Backend {
	case "elevenlabs", "openai":
	default:
		return fmt.Errorf("synthesize.backend must be \"elevenlabs\" or \"openai\", got %q", c.Synthesize.Backend)
	}
	if c.Synthesize.Voice == "" {
		return fmt.Errorf("synthesize.voice must not be empty")
	}
	if c.Synthesize.Timeout <= 0 {
		return fmt.Errorf("synthesize.timeout must be > 0")
	}

	if c.Publish.Enabled {
		if c.Publish.Endpoint == "" {
			return fmt.Errorf("publish.endpoint must not be empty when publish is enabled")
		}
		if c.Publish.Bucket == "" {
			return fmt.Errorf("publish.bucket must not be empty when publish is enabled")
		}
	}

	return nil
}

// ParseLogLevel maps a config log level to a slog.Level.
// Unknown values fall back to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger described by the config.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLogLevel(c.LogLevel)}
	var h slog.Handler
	if c.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

const defaultHeader = `# podcast-zh configuration
# API keys are read from the environment (or a .env file):
#   LISTEN_NOTES_API_KEY, OPENAI_API_KEY, ELEVENLABS_API_KEY,
#   MINIO_ACCESS_KEY, MINIO_SECRET_KEY
`

// WriteDefault writes the default config to DefaultConfigPath. If a file
// already exists there it is left untouched and ("", nil) is returned.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
