package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/docsrag/docsrag/db"
	"github.com/docsrag/docsrag/internal/api"
	"github.com/docsrag/docsrag/internal/config"
	"github.com/docsrag/docsrag/internal/feedback"
	"github.com/docsrag/docsrag/internal/log"
	"github.com/docsrag/docsrag/internal/provider"
	"github.com/docsrag/docsrag/internal/rag"
	"github.com/docsrag/docsrag/internal/store"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // SSE streaming needs longer timeout
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8000", "listen address (host:port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	logger := newLogger()

	cfg, err := config.Load(logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := validateAddr(serveAddr); err != nil {
		return fmt.Errorf("invalid address %q: %w", serveAddr, err)
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting HTTP API server", "version", Version)

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}

	svc := newService(cfg, pool, logger)

	fb, err := feedback.Open(cfg.FeedbackDB, logger)
	if err != nil {
		return fmt.Errorf("opening feedback store: %w", err)
	}
	defer func() {
		if closeErr := fb.Close(); closeErr != nil {
			logger.Warn("closing feedback store", "error", closeErr)
		}
	}()

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:      logger,
		Service:     svc,
		Feedback:    fb,
		DocsDir:     cfg.DocsDir,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", serveAddr,
		"docs_dir", cfg.DocsDir,
		"health", "/health",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}

// newService wires the provider client, vector store and orchestrator
// from loaded configuration. Shared by serve and ingest.
func newService(cfg *config.Config, pool *pgxpool.Pool, logger log.Logger) *rag.Service {
	client := provider.New(provider.Config{
		APIKey:          cfg.OpenAIAPIKey,
		BaseURL:         cfg.OpenAIBaseURL,
		EmbeddingModel:  cfg.EmbeddingModel,
		CompletionModel: cfg.CompletionModel,
	}, logger)

	idx := store.New(pool, logger)

	return rag.New(client, rag.AdaptClient(client), idx, rag.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   cfg.RetryBaseDelay(),
	}, logger)
}

// validateAddr checks the listen address is host:port with a numeric port.
func validateAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("must be in host:port format: %w", err)
	}
	if port == "" {
		return errors.New("port is required")
	}
	if host != "" && host != "localhost" && net.ParseIP(host) == nil {
		if strings.ContainsAny(host, " \t\n") {
			return fmt.Errorf("invalid host: %s", host)
		}
	}
	return nil
}
