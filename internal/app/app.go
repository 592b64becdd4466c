package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AlphaNoXD/pai/internal/api"
	"github.com/AlphaNoXD/pai/internal/config"
	"github.com/AlphaNoXD/pai/internal/llm"
	"github.com/AlphaNoXD/pai/internal/service"
)

const shutdownTimeout = 10 * time.Second

// App is the assembled relay server.
type App struct {
	Server *http.Server
}

// NewApp wires the relay from configuration. Missing credentials are not an
// error here: the relay reports them per request.
func NewApp(cfg *config.Config) (*App, error) {
	authMode, err := llm.ParseAuthMode(cfg.ImageAuthMode)
	if err != nil {
		return nil, err
	}

	provider := llm.NewGeminiProvider(llm.GeminiOptions{
		TextBaseURL:   cfg.GeminiBaseURL,
		TextModel:     cfg.GeminiChatModel,
		ImageBaseURL:  cfg.VertexBaseURL,
		ImageLocation: cfg.VertexLocation,
		ImageModel:    cfg.ImageModel,
		ImageAuth:     authMode,
		Timeout:       cfg.UpstreamTimeout,
	})
	relayService := service.NewRelayService(provider, service.Credentials{
		APIKey:    cfg.GeminiAPIKey,
		ProjectID: cfg.GCPProjectID,
	})

	if cfg.GeminiAPIKey == "" {
		slog.Warn("GEMINI_API_KEY is not set, every relay request will fail")
	}
	if cfg.GCPProjectID == "" {
		slog.Warn("GOOGLE_CLOUD_PROJECT_ID is not set, image requests will fail")
	}

	relayHandler := api.NewRelayHandler(relayService, cfg.MaxBodyBytes)
	router := api.NewRouter(relayHandler, requestTimeout(cfg.UpstreamTimeout))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.AppPort),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &App{Server: server}, nil
}

// requestTimeout leaves headroom over the upstream timeout so the upstream
// error, not the middleware, is what the caller sees.
func requestTimeout(upstream time.Duration) time.Duration {
	if upstream <= 0 {
		return 0
	}
	return upstream + 5*time.Second
}

// Serve runs the server until ctx is cancelled, then shuts it down gracefully.
func (a *App) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return <-errCh
}

func Run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		// slog is not yet configured, so use the default logger for this critical error.
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	setupLogger(os.Stdout, cfg.LogLevel)

	logConfigSource(cfg.ConfigFile)

	app, err := NewApp(cfg)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Serve(ctx); err != nil {
		slog.Error("Server failed", "error", err)
		return 1
	}
	return 0
}

func logConfigSource(configFileUsed string) {
	if configFileUsed != "" {
		slog.Info("Successfully loaded configuration from file.", "file", configFileUsed)
	} else {
		slog.Info("Configuration file not found. Using environment variables and defaults.")
	}
}

func setupLogger(w io.Writer, logLevel string) {
	var level slog.Level
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}
