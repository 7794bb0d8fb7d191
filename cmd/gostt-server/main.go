package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/getsentry/sentry-go"

	"github.com/chaz8081/gostt-server/internal/audio"
	"github.com/chaz8081/gostt-server/internal/config"
	"github.com/chaz8081/gostt-server/internal/dispatch"
	"github.com/chaz8081/gostt-server/internal/httpapi"
	"github.com/chaz8081/gostt-server/internal/models"
	"github.com/chaz8081/gostt-server/internal/transcribe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/gostt-server/config.yaml)")
	envFile := flag.String("env-file", ".env", "dotenv file to load before reading the environment")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	issueToken := flag.String("issue-token", "", "print a bearer token for `subject` signed with auth.jwt_secret and exit")
	tokenTTL := flag.Duration("token-ttl", 30*24*time.Hour, "lifetime of tokens printed by -issue-token")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("gostt-server", version)
		return
	}

	if *initConfig {
		path := *configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		if err := config.WriteDefault(path); err != nil {
			fatal("writing default config", err)
		}
		fmt.Println("Wrote", path)
		return
	}

	if err := config.LoadEnvFiles(*envFile); err != nil {
		fatal("env", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("config", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		fatal("config env", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("config validation", err)
	}

	if *issueToken != "" {
		token, err := httpapi.IssueToken(cfg.Auth.JWTSecret, *issueToken, *tokenTTL)
		if err != nil {
			fatal("issuing token", err)
		}
		fmt.Println(token)
		return
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Release:          "gostt-server@" + version,
			Environment:      getEnvironment(),
			EnableTracing:    true,
			TracesSampleRate: 0.2,
		})
		if err != nil {
			logger.Warn("sentry init failed", "error", err)
		} else {
			logger.Info("sentry initialized")
			defer sentry.Flush(2 * time.Second)
		}
	}

	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ensureModel(ctx, cfg, logger); err != nil {
		fatal("model download", err)
	}

	// Load the model before accepting connections; a server without a model
	// is useless.
	modelStart := time.Now()
	handle, err := transcribe.Load(cfg.Model, logger)
	if err != nil {
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		fatal("loading model", err)
	}
	logger.Info("model ready", "elapsed", time.Since(modelStart).Round(time.Millisecond))

	dispatcher := dispatch.New(handle, cfg.Dispatch, logger)

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Version:        version,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		JWTSecret:      cfg.Auth.JWTSecret,
		MaxUploadBytes: cfg.MaxUploadBytes(),
	}, logger, audio.NewNormalizer(cfg.Audio.FFmpegPath), dispatcher, handle.Info())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error("listen failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	dispatcher.Close()
	if err := handle.Close(); err != nil {
		logger.Warn("closing model", "error", err)
	}
	logger.Info("goodbye")
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	// No config file, use defaults
	return config.Default(), nil
}

// ensureModel downloads the configured whisper model when it is missing and
// auto_download is on.
func ensureModel(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m := cfg.Model
	if m.Backend != "whisper" || m.ModelPath != "" || !m.AutoDownload || models.Installed(m.ModelsDir, m.Name) {
		return nil
	}
	logger.Info("downloading model", "model", m.Name, "dir", m.ModelsDir)
	path, err := models.NewDownloader(os.Stderr).Download(ctx, m.ModelsDir, m.Name)
	if err != nil {
		return err
	}
	logger.Info("model downloaded", "path", path)
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func getEnvironment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	title := color.New(color.FgCyan, color.Bold)
	label := color.New(color.FgHiBlack)

	title.Println("=== gostt-server " + version + " ===")
	row := func(name, value string) {
		label.Printf("  %-9s", name+":")
		fmt.Println(value)
	}
	row("Listen", cfg.Server.Addr)
	row("Model", fmt.Sprintf("%s (%s, %s/%s)", cfg.Model.Name, cfg.Model.Backend, cfg.Model.Device, cfg.Model.ComputeType))
	row("Language", orDefault(cfg.Model.Language, "auto"))
	row("Workers", fmt.Sprintf("%d, queue %d, timeout %s", cfg.Dispatch.Workers, cfg.Dispatch.QueueDepth, cfg.Dispatch.Timeout))
	row("Uploads", fmt.Sprintf("max %d MB", cfg.Audio.MaxUploadMB))
	auth := color.YellowString("off")
	if cfg.Auth.JWTSecret != "" {
		auth = color.GreenString("bearer JWT")
	}
	row("Auth", auth)
	row("Log", cfg.LogLevel)
	title.Println("=====================")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s %s: %v\n", color.RedString("error:"), what, err)
	os.Exit(1)
}
