package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	mcpSdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/ragchat/internal/config"
	"github.com/koopa0/ragchat/internal/mcp"
)

// runMCP initializes and starts the MCP server on stdio transport.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting MCP server", "version", Version)

	rt, err := newRuntime(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Each rag_ask call mints a one-shot session, so the eviction sweep must
	// run here too or the store grows for the life of the process.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); rt.registry.Run(ctx) }()
	go func() { defer wg.Done(); rt.sessions.Run(ctx) }()
	defer wg.Wait()
	defer cancel()

	server, err := mcp.NewServer(mcp.Config{
		Name:     "ragchat",
		Version:  Version,
		Chat:     rt.chat,
		Searcher: rt.searcher,
		Logger:   slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	slog.Info("MCP server ready", "name", "ragchat", "version", Version, "transport", "stdio")

	if err := server.Run(ctx, &mcpSdk.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}

	slog.Info("MCP server shut down gracefully")
	return nil
}
