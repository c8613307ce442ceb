package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"buddyhub/internal/api"
	"buddyhub/internal/auth"
	"buddyhub/internal/config"
	"buddyhub/internal/database"
	"buddyhub/internal/delivery"
	"buddyhub/internal/hub"
	"buddyhub/internal/metrics"
	"buddyhub/internal/presence"
	"buddyhub/internal/router"
	"buddyhub/internal/signaling"
	"buddyhub/internal/websocket"
)

// shutdownTimeout bounds how long Run waits for in-flight HTTP requests.
const shutdownTimeout = 10 * time.Second

// Application owns every component of one hub process
// ARCHITECTURAL DISCOVERY: construction order is store, metrics, presence,
// router, delivery, signaling, hub, transport, HTTP; shutdown runs in reverse
type Application struct {
	config     *config.Config
	logger     zerolog.Logger
	store      *database.Manager
	metrics    *metrics.Metrics
	presence   *presence.Registry
	rooms      *router.Router
	hub        *hub.Hub
	ws         *websocket.Handler
	api        *api.Server
	httpServer *http.Server
}

func NewApplication(cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := database.NewManager(cfg.DatabaseConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize message store: %w", err)
	}

	m := metrics.New()
	reg := presence.NewRegistry(logger)
	rooms := router.NewRouter(m, logger)
	limiter := delivery.NewRateLimiter(cfg.RateLimit.MessagesPerMinute, time.Minute)
	svc := delivery.NewService(store, rooms, limiter, m, logger)
	coordinator := signaling.NewCoordinator(rooms, reg, cfg.Calls.RingTimeout, m, logger)
	authenticator := auth.New(cfg.Auth.JWTSecret)

	h := hub.NewHub(hub.Deps{
		Presence:  reg,
		Rooms:     rooms,
		Delivery:  svc,
		Signaling: coordinator,
		Auth:      authenticator,
		Metrics:   m,
	}, logger)

	ws := websocket.NewHandler(h, websocket.Options{
		SendBuffer:     cfg.WebSocket.BufferSize,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}, cfg.HTTP.AllowedOrigins, logger)

	apiServer := api.NewServer(api.Deps{
		Presence:       reg,
		History:        svc,
		Notifier:       svc,
		Store:          store,
		Hub:            h,
		Auth:           authenticator,
		WebSocket:      ws,
		Metrics:        m.Handler(),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, logger)

	if cfg.Auth.JWTSecret == "" {
		logger.Warn().Msg("no JWT secret configured, any well-formed user id is accepted")
	}

	return &Application{
		config:   cfg,
		logger:   logger.With().Str("component", "app").Logger(),
		store:    store,
		metrics:  m,
		presence: reg,
		rooms:    rooms,
		hub:      h,
		ws:       ws,
		api:      apiServer,
		httpServer: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           apiServer,
			ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
			ReadTimeout:       cfg.HTTP.ReadTimeout,
			WriteTimeout:      cfg.HTTP.WriteTimeout,
		},
	}, nil
}

// Handler is the root HTTP handler, for mounting under a test server.
func (a *Application) Handler() http.Handler {
	return a.api
}

func (a *Application) Addr() string {
	return a.httpServer.Addr
}

// Run serves until ctx is cancelled or the listener fails, then shuts every
// component down.
func (a *Application) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		_ = a.store.Close()
		return fmt.Errorf("failed to listen on %s: %w", a.httpServer.Addr, err)
	}
	return a.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (a *Application) Serve(ctx context.Context, listener net.Listener) error {
	if err := a.hub.Start(ctx); err != nil {
		_ = listener.Close()
		_ = a.store.Close()
		return fmt.Errorf("failed to start hub: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().Str("addr", listener.Addr().String()).Msg("buddyhub listening")
		if err := a.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	return g.Wait()
}

// shutdown stops intake first, then drains connections, then the hub, then
// the store.
func (a *Application) shutdown() {
	a.logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("HTTP server shutdown")
	}

	a.ws.CloseAll()

	if err := a.hub.Stop(); err != nil {
		a.logger.Warn().Err(err).Msg("hub shutdown")
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("message store shutdown")
	}

	a.logger.Info().Msg("shutdown complete")
}
