// chatstream - streaming chat client for the conversation backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/chatstream/internal/auth"
	"github.com/jeranaias/chatstream/internal/backend"
	"github.com/jeranaias/chatstream/internal/config"
	"github.com/jeranaias/chatstream/internal/credential"
	"github.com/jeranaias/chatstream/internal/engine"
	"github.com/jeranaias/chatstream/internal/model"
	"github.com/jeranaias/chatstream/internal/util"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	stateDir, err := cfg.StorageDir()
	if err != nil {
		return err
	}
	store, err := credential.Open(filepath.Join(stateDir, "credentials.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	client := &swappableClient{c: backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.UserID, cfg.Backend.Password)}
	authenticator := auth.New(store, client)

	transport, err := backend.NewTransport(cfg.Backend.Transport)
	if err != nil {
		return err
	}

	var opts []engine.Option
	if cfg.TurnTimeout() > 0 {
		opts = append(opts, engine.WithTurnTimeout(cfg.TurnTimeout()))
	}
	eng := engine.New(authenticator, client, transport, opts...)

	watchConfig(client)

	repl := &repl{
		engine: eng,
		client: client,
		auth:   authenticator,
	}
	eng.OnUpdate(repl.render)
	eng.OnThinking(func(string) { fmt.Print(".") })

	// Ctrl-C stops the active turn; with nothing in flight it exits.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		for range sigCh {
			if eng.Active() {
				eng.Cancel()
			} else {
				fmt.Println()
				os.Exit(0)
			}
		}
	}()

	fmt.Printf("chatstream %s (backend %s)\n", Version, cfg.Backend.BaseURL)
	fmt.Println("Type a message, or /health, /history, /logout, /quit.")
	return repl.loop(os.Stdin)
}

// watchConfig starts the hot-reload watcher. Backend address and client
// identity apply to the next turn; transport and timeout changes need a
// restart since the running engine holds them.
func watchConfig(client *swappableClient) {
	path, err := config.Path()
	if err != nil {
		return
	}
	w, err := config.NewWatcher(path)
	if err != nil {
		log.Printf("config: hot reload unavailable: %v", err)
		return
	}
	w.OnReload(func(cfg *config.Config) {
		client.set(backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.UserID, cfg.Backend.Password))
		log.Printf("config: backend now %s (transport and timeout changes need a restart)", cfg.Backend.BaseURL)
	})
	if err := w.Watch(); err != nil {
		log.Printf("config: hot reload unavailable: %v", err)
		w.Close()
	}
}

// =============================================================================
// SWAPPABLE BACKEND CLIENT
// =============================================================================

// swappableClient lets a config reload repoint the backend client without
// tearing down the engine or losing the conversation.
type swappableClient struct {
	mu sync.RWMutex
	c  *backend.Client
}

func (s *swappableClient) get() *backend.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c
}

func (s *swappableClient) set(c *backend.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c = c
}

func (s *swappableClient) Authenticate(ctx context.Context) (credential.Credential, error) {
	return s.get().Authenticate(ctx)
}

func (s *swappableClient) OpenChat(ctx context.Context, cred credential.Credential, message string) (io.ReadCloser, error) {
	return s.get().OpenChat(ctx, cred, message)
}

func (s *swappableClient) Health(ctx context.Context) error {
	return s.get().Health(ctx)
}

// =============================================================================
// LINE REPL
// =============================================================================

type repl struct {
	engine *engine.Engine
	client *swappableClient
	auth   *auth.Authenticator

	// render state for the in-progress assistant message
	lastID string
	shown  string
}

func (r *repl) loop(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Printf("%s> ", model.RoleUser.DisplayName())
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit", line == "/exit":
			return nil
		case line == "/health":
			r.health()
			continue
		case line == "/history":
			r.history()
			continue
		case line == "/logout":
			if err := r.auth.Invalidate(); err != nil {
				fmt.Printf("logout failed: %v\n", err)
			} else {
				fmt.Println("stored credential cleared")
			}
			continue
		case strings.HasPrefix(line, "/"):
			fmt.Printf("unknown command %s\n", line)
			continue
		}

		if err := r.engine.SendMessage(line); err != nil {
			fmt.Printf("rejected: %v\n", err)
			continue
		}
		fmt.Printf("%s> ", model.RoleAssistant.DisplayName())
		r.waitTurn()
	}
}

// render prints newly arrived assistant content. Registered as the
// engine's snapshot observer; it must not call back into the engine.
func (r *repl) render(msgs []model.Message) {
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Role != model.RoleAssistant {
		return
	}
	if last.ID != r.lastID {
		r.lastID = last.ID
		r.shown = ""
	}
	// Content grows append-only while streaming; an error explanation
	// replaces it wholesale, so fall back to a fresh line.
	if strings.HasPrefix(last.Content, r.shown) {
		fmt.Print(last.Content[len(r.shown):])
	} else {
		fmt.Print("\n" + last.Content)
	}
	r.shown = last.Content
}

// waitTurn blocks until the active turn reaches a terminal state and
// prints its epilogue.
func (r *repl) waitTurn() {
	for !r.engine.State().Terminal() {
		time.Sleep(30 * time.Millisecond)
	}
	fmt.Println()
	switch r.engine.State() {
	case engine.StateErrored:
		fmt.Println("[turn failed]")
	case engine.StateCancelled:
		fmt.Println("[stopped by user]")
	}
}

// history prints a one-line preview of each message in order.
func (r *repl) history() {
	msgs := r.engine.Snapshot()
	if len(msgs) == 0 {
		fmt.Println("no messages yet")
		return
	}
	for _, m := range msgs {
		preview := util.TruncateRunes(m.DisplayContent(), 72)
		if m.Status == model.StatusComplete {
			fmt.Printf("%s: %s\n", m.Role.DisplayName(), preview)
		} else {
			fmt.Printf("%s (%s): %s\n", m.Role.DisplayName(), m.Status, preview)
		}
	}
}

func (r *repl) health() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	if err := r.client.Health(ctx); err != nil {
		fmt.Printf("backend unhealthy: %v\n", err)
		return
	}
	fmt.Printf("backend healthy (%s)\n", time.Since(start).Round(time.Millisecond))
}
