// Package app wires the relay's components and coordinates startup and
// shutdown.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fordward/relay/internal/api"
	"github.com/fordward/relay/internal/config"
	"github.com/fordward/relay/internal/history"
	"github.com/fordward/relay/internal/registry"
	"github.com/fordward/relay/internal/relay"
)

// Application holds every long-lived component.
type Application struct {
	cfg        *config.Config
	store      *history.Store
	robots     *registry.Robots
	clients    *registry.Clients
	relay      *relay.Relay
	httpServer *http.Server
	log        zerolog.Logger

	reaperCancel context.CancelFunc
}

// NewApplication builds the component graph: history, registries, relay,
// API, HTTP server.
func NewApplication(cfg *config.Config, log zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var store *history.Store
	if cfg.HistoryPath != "" {
		var err error
		store, err = history.Open(cfg.HistoryPath, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
	}

	robots := registry.NewRobots(log)
	clients := registry.NewClients(log)

	var sink relay.EventSink
	if store != nil {
		sink = store
	}
	rly := relay.New(cfg, robots, clients, sink, log)
	apiServer := api.NewServer(robots, clients, store, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/robot", rly.HandleRobot)
	mux.HandleFunc("/ui", rly.HandleUI)
	mux.Handle("/", apiServer)

	httpServer := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     mux,
		ReadTimeout: 0, // WebSocket sessions outlive any request timeout
	}

	return &Application{
		cfg:        cfg,
		store:      store,
		robots:     robots,
		clients:    clients,
		relay:      rly,
		httpServer: httpServer,
		log:        log.With().Str("component", "app").Logger(),
	}, nil
}

// Start launches the reapers and the HTTP listener. It returns the
// listener's error if it fails within 100 ms, and nil after that.
func (a *Application) Start(ctx context.Context) error {
	a.log.Info().Str("addr", a.httpServer.Addr).Msg("starting relay")

	reaperCtx, cancel := context.WithCancel(ctx)
	a.reaperCancel = cancel
	a.relay.StartReapers(reaperCtx)

	serverErr := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case err := <-serverErr:
		cancel()
		return err
	case <-time.After(100 * time.Millisecond):
		a.log.Info().Msg("relay started")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Stop announces shutdown to operators, closes the listener, and flushes
// the audit log.
func (a *Application) Stop(ctx context.Context) error {
	a.log.Info().Msg("shutting down relay")

	a.relay.Shutdown()
	if a.reaperCancel != nil {
		a.reaperCancel()
	}

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("http server shutdown error")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("history store shutdown error")
		}
	}

	a.log.Info().Msg("relay shutdown complete")
	return nil
}
