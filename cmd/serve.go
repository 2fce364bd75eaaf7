package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/koopa0/ragchat/internal/api"
	"github.com/koopa0/ragchat/internal/config"
	"github.com/koopa0/ragchat/internal/observability"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // SSE streaming needs longer timeout
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// runServe initializes and starts the HTTP API server.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr, err := parseServeAddr(serveArgs(), cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	logger.Info("starting HTTP API server", "version", Version)

	tracingShutdown := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
	})
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer flushCancel()
		if err := tracingShutdown(flushCtx); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Background loops stop on ctx cancel; the paired defers cancel first
	// and then wait so no loop outlives the command.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); rt.registry.Run(ctx) }()
	go func() { defer wg.Done(); rt.sessions.Run(ctx) }()
	defer wg.Wait()
	defer cancel()

	apiServer, err := api.NewServer(api.Config{
		Chat:           rt.chat,
		Sessions:       rt.sessions,
		Backend:        rt.registry,
		Logger:         logger,
		CORSOrigins:    cfg.Server.CORSOrigins,
		TrustProxy:     cfg.Server.TrustProxy,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", addr,
		"api", "/api/v1/*",
		"health", "/health, /ready",
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

// serveArgs returns the command line arguments after "serve".
func serveArgs() []string {
	if len(os.Args) > 2 {
		return os.Args[2:]
	}
	return nil
}
