package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	tea "charm.land/bubbletea/v2"

	"github.com/koopa0/ragchat/internal/config"
	"github.com/koopa0/ragchat/internal/tui"
)

// runChat initializes and starts the interactive terminal client.
func runChat() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); rt.registry.Run(ctx) }()
	go func() { defer wg.Done(); rt.sessions.Run(ctx) }()
	defer wg.Wait()
	defer cancel()

	// An empty session id lets the service mint one on the first turn.
	model, err := tui.New(ctx, rt.chat, "")
	if err != nil {
		return fmt.Errorf("creating TUI: %w", err)
	}

	program := tea.NewProgram(model, tea.WithContext(ctx))
	if _, err = program.Run(); err != nil {
		return fmt.Errorf("TUI exited: %w", err)
	}
	return nil
}
