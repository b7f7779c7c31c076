// ABOUTME: Assembles the runtime object graph shared by every command.
// ABOUTME: The history store is optional; commands that do not need it skip opening it.

package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/2389/sdrhub/internal/api"
	"github.com/2389/sdrhub/internal/auth"
	"github.com/2389/sdrhub/internal/config"
	"github.com/2389/sdrhub/internal/factory"
	"github.com/2389/sdrhub/internal/modules"
	"github.com/2389/sdrhub/internal/store"
	"github.com/2389/sdrhub/plugins/convert"
	"github.com/2389/sdrhub/plugins/core"
)

type hub struct {
	drivers    *core.Registry
	converters *convert.Registry
	modules    *modules.Modules
	factory    *factory.Factory
	store      *store.Store
	logger     *slog.Logger
	root       string
	auth       auth.Options
}

// newHub wires the process-wide registries to a loader and a factory. When
// withStore is set the history database is opened and records probes and
// module events.
func newHub(cfg *config.Config, logger *slog.Logger, withStore bool) (*hub, error) {
	h := &hub{
		drivers:    core.Default(),
		converters: convert.Default(),
		logger:     logger,
		root:       cfg.Root,
		auth:       auth.Options{Token: cfg.APIToken, JWTSecret: cfg.JWTSecret},
	}

	modOpts := []modules.Option{
		modules.WithRoot(cfg.Root),
		modules.WithSearchPaths(cfg.PluginPath...),
		modules.WithLogger(logger),
	}
	factoryOpts := []factory.Option{
		factory.WithTTL(cfg.CacheTTL),
		factory.WithLogger(logger),
	}

	if withStore {
		dbPath, err := validateAndCleanDBPath(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		s, err := store.New(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		h.store = s
		modOpts = append(modOpts, modules.WithRecorder(s))
		factoryOpts = append(factoryOpts, factory.WithRecorder(s))
	}

	h.modules = modules.New(h.drivers, h.converters, modOpts...)
	h.factory = factory.New(h.drivers, append(factoryOpts, factory.WithLoader(h.modules))...)
	return h, nil
}

func (h *hub) handler() http.Handler {
	cfg := api.Config{
		Drivers:    h.drivers,
		Converters: h.converters,
		Factory:    h.factory,
		Modules:    h.modules,
		Auth:       h.auth,
		Logger:     h.logger,
	}
	if h.store != nil {
		cfg.History = h.store
	}
	return api.New(cfg).Handler()
}

func (h *hub) Close() error {
	if h.store != nil {
		return h.store.Close()
	}
	return nil
}
