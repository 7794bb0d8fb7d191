package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/gostt-server/internal/models"
)

// Config holds all service configuration. It is resolved once at startup and
// treated as read-only afterwards.
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Model     ModelConfig    `yaml:"model"`
	Dispatch  DispatchConfig `yaml:"dispatch"`
	Audio     AudioConfig    `yaml:"audio"`
	Auth      AuthConfig     `yaml:"auth"`
	SentryDSN string         `yaml:"sentry_dsn"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"` // "text" or "json"
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// ModelConfig selects and configures the single transcription model.
type ModelConfig struct {
	Name         string `yaml:"name"`    // model identifier, e.g. "base" or "large-v3"
	Backend      string `yaml:"backend"` // "whisper", "faster-whisper" or "openai"
	ModelsDir    string `yaml:"models_dir"`
	ModelPath    string `yaml:"model_path"` // explicit ggml file; overrides the models_dir lookup
	Device       string `yaml:"device"`     // "cpu" or "cuda"
	ComputeType  string `yaml:"compute_type"`
	Language     string `yaml:"language"` // default forced language, empty for auto-detect
	Threads      int    `yaml:"threads"`
	AutoDownload bool   `yaml:"auto_download"`

	// faster-whisper helper interpreter
	Python string `yaml:"python"`

	// openai backend
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
}

// DispatchConfig bounds inference concurrency.
type DispatchConfig struct {
	Workers    int           `yaml:"workers"`
	QueueDepth int           `yaml:"queue_depth"`
	Timeout    time.Duration `yaml:"timeout"`
}

// AudioConfig holds upload and decoding settings.
type AudioConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

// AuthConfig enables bearer-token auth on the transcription routes when
// JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// supportedDevices are the devices the inference backends accept.
var supportedDevices = map[string]bool{"cpu": true, "cuda": true}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gostt-server")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultModelsDir returns the directory model files are stored in.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "models"
	}
	return filepath.Join(home, ".local", "share", "gostt-server", "models")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8000",
			AllowedOrigins:    []string{"*"},
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Model: ModelConfig{
			Name:        "base",
			Backend:     "whisper",
			ModelsDir:   DefaultModelsDir(),
			Device:      "cpu",
			ComputeType: "int8",
			Python:      "python3",
		},
		Dispatch: DispatchConfig{
			Workers:    1,
			QueueDepth: 16,
			Timeout:    120 * time.Second,
		},
		Audio: AudioConfig{
			FFmpegPath:  "ffmpeg",
			MaxUploadMB: 25,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Model.ModelsDir = expandTilde(cfg.Model.ModelsDir)
	cfg.Model.ModelPath = expandTilde(cfg.Model.ModelPath)
	cfg.Model.Device = normalizeDevice(cfg.Model.Device)

	return cfg, nil
}

// WriteDefault writes the default config as YAML to path. It does nothing if
// the file already exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}

	if c.Model.Name == "" {
		return fmt.Errorf("model.name must not be empty")
	}
	if _, ok := models.Lookup(c.Model.Name); !ok && c.Model.ModelPath == "" {
		return fmt.Errorf("model.name must be one of %s, got %q", strings.Join(models.IDs(), ", "), c.Model.Name)
	}

	switch c.Model.Backend {
	case "whisper":
		if c.Model.ModelPath == "" && c.Model.ModelsDir == "" {
			return fmt.Errorf("whisper backend requires model.model_path or model.models_dir")
		}
	case "faster-whisper":
		if c.Model.Python == "" {
			return fmt.Errorf("faster-whisper backend requires model.python")
		}
	case "openai":
		if c.Model.OpenAIAPIKey == "" {
			return fmt.Errorf("openai backend requires model.openai_api_key")
		}
	default:
		return fmt.Errorf("model.backend must be whisper, faster-whisper, or openai, got %q", c.Model.Backend)
	}

	if !supportedDevices[c.Model.Device] {
		return fmt.Errorf("model.device must be cpu or cuda, got %q", c.Model.Device)
	}

	if c.Dispatch.Workers < 1 {
		return fmt.Errorf("dispatch.workers must be >= 1")
	}
	if c.Dispatch.QueueDepth < 0 {
		return fmt.Errorf("dispatch.queue_depth must be >= 0")
	}
	if c.Dispatch.Timeout <= 0 {
		return fmt.Errorf("dispatch.timeout must be > 0")
	}

	if c.Audio.MaxUploadMB <= 0 {
		return fmt.Errorf("audio.max_upload_mb must be > 0")
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

	return nil
}

// MaxUploadBytes is the decoded-upload ceiling in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Audio.MaxUploadMB) * 1024 * 1024
}

// ParseLogLevel maps a config log level to a slog.Level. Unknown values map
// to info.
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

// normalizeDevice lowercases the device name and falls back to cpu for
// devices the backends cannot use.
func normalizeDevice(device string) string {
	d := strings.ToLower(strings.TrimSpace(device))
	if d == "" {
		return "cpu"
	}
	if !supportedDevices[d] {
		slog.Warn("unsupported model device, falling back to cpu", "device", device)
		return "cpu"
	}
	return d
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
