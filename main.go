// Package main is the entry point of the forumchat terminal client.
//
// Wire-up, in order:
//  1. Config
//  2. Log file (the terminal belongs to the UI)
//  3. Local preview cache (SQLite)
//  4. REST client
//  5. Event hub
//  6. Session (roster, history, notices, composer, push channel)
//  7. Terminal UI
//  8. Shutdown
//
// There are no globals: everything is created here and passed down.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/akinalp/forumchat/api"
	"github.com/akinalp/forumchat/config"
	"github.com/akinalp/forumchat/models"
	"github.com/akinalp/forumchat/tui"
	"github.com/akinalp/forumchat/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "forumchat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ─── 1. Config ───
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─── 2. Logging ───
	if cfg.Log.File != "" {
		logFile, err := tea.LogToFile(cfg.Log.File, "forumchat")
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer logFile.Close()
	} else {
		log.SetOutput(io.Discard)
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Printf("[main] forumchat starting (server=%s)", cfg.Server.BaseURL)

	// ─── 3. Local preview cache ───
	cache, err := initCache(cfg.Cache)
	if err != nil {
		return err
	}
	defer cache.Close()

	// ─── 4. REST client ───
	client, err := api.NewClient(cfg.Server.BaseURL, cfg.Server.RequestTimeout, cfg.Auth.SessionToken)
	if err != nil {
		return fmt.Errorf("failed to create api client: %w", err)
	}

	// ─── 5. Event hub ───
	hub := ws.NewHub()
	defer hub.Close()

	// ─── 6. Session ───
	session, err := initSession(cfg, client, cache.Previews, hub)
	if err != nil {
		return err
	}
	defer session.Shutdown()

	// ─── 7. Terminal UI ───
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bridge := tui.NewBridge(hub)
	defer bridge.Close()

	var opts tui.Options
	if cfg.Auth.Identifier != "" && cfg.Auth.Password != "" {
		opts.AutoLogin = &models.LoginRequest{
			Identifier: cfg.Auth.Identifier,
			Password:   cfg.Auth.Password,
		}
	}

	program := tea.NewProgram(
		tui.New(ctx, session, bridge, opts),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)

	// ─── 8. Shutdown ───
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("terminal ui failed: %w", err)
	}
	log.Println("[main] forumchat stopped")
	return nil
}
