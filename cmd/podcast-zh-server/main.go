// Command podcast-zh-server serves the localization pipeline over HTTP.
//
// Usage:
//
//	go run ./cmd/podcast-zh-server [--config path] [--addr host:port]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chaz8081/podcast-zh/internal/app"
	"github.com/chaz8081/podcast-zh/internal/config"
	"github.com/chaz8081/podcast-zh/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/podcast-zh/config.yaml)")
	addr := flag.String("addr", "", "listen address (overrides server.addr)")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("env: %v", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, config.LoadCredentials(nil), logger)
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer a.Close()

	if !app.SearchAvailable(a.Locator) {
		logger.Warn("Episode search unavailable; runs from URLs and uploads still work")
	}
	var publisher server.Publisher
	if a.Publisher != nil {
		publisher = a.Publisher
	}

	srv, err := server.New(a.Pipeline, a.Locator, publisher, server.Config{
		DataDir:        filepath.Join(cfg.WorkDir, "server"),
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
		AllowedOrigin:  cfg.Server.AllowedOrigin,
		SearchDefaults: app.SearchDefaults(cfg),
		Logger:         logger,
	})
	if err != nil {
		log.Fatalf("server: %v", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	fmt.Println("=== podcast-zh-server ===")
	fmt.Printf("  Listen:  http://%s\n", cfg.Server.Addr)
	fmt.Printf("  Speech:  %s (%s)\n", cfg.Transcribe.Backend, cfg.Transcribe.Tier)
	fmt.Printf("  Voice:   %s via %s\n", cfg.Synthesize.Voice, cfg.Synthesize.Backend)
	fmt.Printf("  Publish: %v\n", cfg.Publish.Enabled)
	fmt.Println("=========================")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	case <-ctx.Done():
		log.Println("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Runs still in progress at exit", "error", err)
	}
	log.Println("Goodbye!")
}

// loadConfig loads the config from path, the default path, or defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		return config.Load(defaultPath)
	}
	return config.Default(), nil
}
