package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads KEY=value files into the process environment. Missing
// files are skipped and variables already set in the environment win.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading env file %s: %w", p, err)
		}
		slog.Debug("env file loaded", "path", p)
	}
	return nil
}

// ApplyEnv overrides config values from the process environment.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.Getenv)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("GOSTT_ADDR", &c.Server.Addr)
	str("WHISPER_MODEL", &c.Model.Name)
	str("WHISPER_BACKEND", &c.Model.Backend)
	str("WHISPER_MODEL_PATH", &c.Model.ModelPath)
	str("WHISPER_MODELS_DIR", &c.Model.ModelsDir)
	str("WHISPER_COMPUTE_TYPE", &c.Model.ComputeType)
	str("WHISPER_LANGUAGE", &c.Model.Language)
	str("OPENAI_API_KEY", &c.Model.OpenAIAPIKey)
	str("OPENAI_BASE_URL", &c.Model.OpenAIBaseURL)
	str("FFMPEG_PATH", &c.Audio.FFmpegPath)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("SENTRY_DSN", &c.SentryDSN)
	str("LOG_FORMAT", &c.LogFormat)

	if v := getenv("WHISPER_DEVICE"); v != "" {
		c.Model.Device = normalizeDevice(v)
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(strings.TrimSpace(v))
	}
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v := strings.TrimSpace(getenv("GOSTT_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GOSTT_TIMEOUT: %w", err)
		}
		c.Dispatch.Timeout = d
	}

	if err := num("GOSTT_WORKERS", &c.Dispatch.Workers); err != nil {
		return err
	}
	if err := num("GOSTT_QUEUE_DEPTH", &c.Dispatch.QueueDepth); err != nil {
		return err
	}
	if err := num("MAX_UPLOAD_SIZE_MB", &c.Audio.MaxUploadMB); err != nil {
		return err
	}
	if err := num("WHISPER_THREADS", &c.Model.Threads); err != nil {
		return err
	}

	c.Model.ModelsDir = expandTilde(c.Model.ModelsDir)
	c.Model.ModelPath = expandTilde(c.Model.ModelPath)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
