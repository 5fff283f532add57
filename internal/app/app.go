// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires every component of the gateway together: the session
// registry, the persistence store, the command router, the turn
// coordinator, the HTTP/SSE API server, and the optional WebSocket bot
// adapter.
package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arinova/bridge/internal/api"
	"github.com/arinova/bridge/internal/backend"
	"github.com/arinova/bridge/internal/bot"
	"github.com/arinova/bridge/internal/commands"
	"github.com/arinova/bridge/internal/config"
	"github.com/arinova/bridge/internal/persistence"
	"github.com/arinova/bridge/internal/registry"
	"github.com/arinova/bridge/internal/turn"
)

const sessionsFileName = "bridge-sessions.json"

// Options holds the command-line overrides main.go may apply on top of the
// loaded configuration.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Version    string
}

// App is the gateway's top-level container. It owns the lifetime of every
// component started by New and stopped by Shutdown.
type App struct {
	mu sync.Mutex

	cfg     *config.Config
	store   *persistence.Store
	reg     *registry.Registry
	router  *commands.Router
	coord   *turn.Coordinator
	api     *api.Server
	botAdap *bot.Adapter

	done     chan struct{}
	stopOnce sync.Once
}

// New loads configuration and constructs every component. Apart from the
// registry's idle sweeper, nothing is started yet; call Run to start serving.
func New(opts Options) (*App, error) {
	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}

	store := persistence.NewStore(filepath.Join(cfg.Persistence.StateDir, sessionsFileName))
	store.LoadFromDisk()

	ephemeralModels := make(map[string]struct{})
	var models []registry.ModelInfo
	for _, m := range cfg.Models {
		kind := backend.KindPersistent
		if m.Ephemeral {
			kind = backend.KindEphemeral
			ephemeralModels[m.ID] = struct{}{}
		}
		models = append(models, registry.ModelInfo{ID: m.ID, OwnedBy: m.OwnedBy, Kind: kind})
	}

	reg := registry.New(registry.Config{
		MaxSessions:           cfg.Registry.MaxSessions,
		IdleTimeout:           time.Duration(cfg.Registry.IdleTimeoutMS) * time.Millisecond,
		DefaultCwd:            cfg.Registry.DefaultCwd,
		PersistentBinPath:     cfg.Backend.PersistentBinPath,
		EphemeralBinPath:      cfg.Backend.EphemeralBinPath,
		EphemeralModels:       ephemeralModels,
		PersistentTurnTimeout: time.Duration(cfg.Backend.PersistentTurnTimeoutMS) * time.Millisecond,
		McpConfigPath:         cfg.Backend.McpConfigPath,
		AppendSystemPrompt:    cfg.Backend.AppendSystemPrompt,
		Models:                models,
	}, store)

	router := commands.New(reg, store)
	coord := turn.New(reg, router, cfg.Registry.DefaultCwd)

	apiServer := api.NewServer(api.ServerConfig{Host: cfg.Server.Host, Port: cfg.Server.Port}, api.Dependencies{
		Coordinator:   coord,
		ModelCatalog:  reg,
		SessionLister: reg,
	})

	app := &App{
		cfg:    cfg,
		store:  store,
		reg:    reg,
		router: router,
		coord:  coord,
		api:    apiServer,
		done:   make(chan struct{}),
	}

	if cfg.Bot.ServerURL != "" && cfg.Bot.BotToken != "" {
		app.botAdap = bot.New(cfg.Bot.ServerURL, cfg.Bot.BotToken, coord, router)
	}

	return app, nil
}

// Run starts every component and blocks until a shutdown signal arrives, a
// component fails irrecoverably, or the given context is canceled.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("app: API server listening on %s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
		if err := a.api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if a.botAdap != nil {
		g.Go(func() error {
			log.Printf("app: connecting bot adapter to %s", a.cfg.Bot.ServerURL)
			return a.botAdap.Run(gctx)
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Printf("app: received signal %v, shutting down", sig)
	case <-gctx.Done():
		log.Printf("app: a component stopped, shutting down")
	case <-a.done:
		log.Printf("app: shutdown requested")
	}

	shutdownErr := a.Shutdown(context.Background())
	if err := g.Wait(); err != nil && shutdownErr == nil {
		return err
	}
	return shutdownErr
}

// Shutdown stops every component, most time-sensitive first.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	var firstErr error
	if a.botAdap != nil {
		a.botAdap.Stop()
	}
	if err := a.api.Shutdown(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	a.reg.StopAll()
	a.store.Flush()

	a.stopOnce.Do(func() { close(a.done) })
	return firstErr
}
