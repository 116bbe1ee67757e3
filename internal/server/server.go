package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webterm/internal/api/middleware"
	"github.com/GriffinCanCode/webterm/internal/assistant"
	"github.com/GriffinCanCode/webterm/internal/auth"
	httpapi "github.com/GriffinCanCode/webterm/internal/http"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/config"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/webterm/internal/protocol"
	"github.com/GriffinCanCode/webterm/internal/shared/paths"
	"github.com/GriffinCanCode/webterm/internal/store"
	"github.com/GriffinCanCode/webterm/internal/terminal"
	"github.com/GriffinCanCode/webterm/internal/ws"
)

// Version is reported by the banner endpoint
var Version = "dev"

// Server wraps the HTTP server and dependencies
type Server struct {
	router    *gin.Engine
	http      *http.Server
	health    *healthServer
	store     *store.Store
	terminals *terminal.Registry
	conns     *ws.Registry
	backend   assistant.Backend
	profile   assistant.Profile
	layout    paths.Layout
	logger    *logging.Logger
	config    *config.Config
	metrics   *monitoring.Metrics
	tracer    *tracing.Tracer

	closeOnce sync.Once
	closeErr  error
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger := logging.NewFromSettings(cfg.Logging.Level, cfg.Logging.Development)

	logger.Info("Initializing terminal server",
		zap.String("addr", cfg.Addr()),
		zap.String("assistant_backend", cfg.Assistant.Backend),
		zap.String("workspace", cfg.Terminal.WorkspaceRoot),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics(nil)
	tracer := tracing.New("webterm", logger.Logger)

	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	logger.Info("Session store opened", zap.String("path", cfg.Store.DatabasePath))

	if cfg.Store.SeedPath != "" {
		if err := applySeed(st, cfg.Store.SeedPath, logger.Logger); err != nil {
			st.Close()
			tracer.Close()
			return nil, err
		}
	}

	verifier, err := newVerifier(cfg.Auth, logger.Logger)
	if err != nil {
		st.Close()
		tracer.Close()
		return nil, err
	}

	layout := paths.New(cfg.Terminal.WorkspaceRoot)

	backend, err := newBackend(cfg.Assistant, logger.Logger)
	if err != nil {
		st.Close()
		tracer.Close()
		return nil, err
	}
	profile, err := loadProfile(cfg.Assistant.Profile, layout)
	if err != nil {
		st.Close()
		tracer.Close()
		return nil, err
	}
	logger.Info("Assistant configured",
		zap.String("backend", backend.Name()),
		zap.Bool("streaming", cfg.Assistant.Streaming),
		zap.String("permission_mode", profile.PermissionMode),
	)

	s := &Server{
		store:     st,
		terminals: terminal.NewRegistry(logger.Logger).WithMetrics(metrics),
		conns: ws.NewRegistry(ws.RegistryConfig{}, logger.Logger).
			WithMetrics(metrics),
		backend: backend,
		profile: profile,
		layout:  layout,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
		tracer:  tracer,
	}

	adapter := assistant.NewAdapter(s.conns, assistant.AdapterOptions{
		Breaker:   assistant.NewBreaker(metrics),
		Timeout:   cfg.Assistant.Timeout,
		Streaming: cfg.Assistant.Streaming,
		Tracer:    tracer,
		Metrics:   metrics,
		Logger:    logger.Logger,
	})

	gate := &auth.Gate{
		Verifier:     verifier,
		Directory:    st,
		Authorizer:   st,
		Entitlements: st,
	}

	wsHandler := ws.NewHandler(ws.HandlerOptions{
		Gate:            gate,
		Terminals:       s.terminals,
		Connections:     s.conns,
		Launch:          s.launch,
		Chat:            adapter,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		FramesPerSecond: cfg.RateLimit.FramesPerSecond,
		FrameBurst:      cfg.RateLimit.FrameBurst,
		Metrics:         metrics,
		Logger:          logger.Logger,
	})

	handlers := httpapi.NewHandlers(httpapi.Options{
		Terminals:   s.terminals,
		Connections: s.conns,
		Directory:   st,
		Authorizer:  st,
		Sessions:    st,
		Chat:        adapter,
		Store:       st,
		Version:     Version,
	})

	s.router = newRouter(cfg, handlers, wsHandler, verifier, metrics, tracer, logger)
	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.health = newHealthServer(tracer, metrics, logger.Logger)

	logger.Info("Server initialized successfully")
	return s, nil
}

func newRouter(
	cfg *config.Config,
	handlers *httpapi.Handlers,
	wsHandler *ws.Handler,
	verifier auth.Verifier,
	metrics *monitoring.Metrics,
	tracer *tracing.Tracer,
	logger *logging.Logger,
) *gin.Engine {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.Server.AllowedOrigins

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(cors))

	// Anonymous routes are limited per client address, authenticated ones
	// per principal
	public := router.Group("/")
	protected := router.Group("/", middleware.RequireBearer(verifier))
	if cfg.RateLimit.Enabled {
		limit := middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}
		logger.Info("Rate limiting enabled",
			zap.Int("rps", limit.RequestsPerSecond),
			zap.Int("burst", limit.Burst),
		)
		public.Use(middleware.RateLimit(limit))
		protected.Use(middleware.RateLimit(limit))
	}

	public.GET("/", handlers.Root)
	public.GET("/health", handlers.Health)
	public.GET("/ws/status", handlers.WSStatus)
	if cfg.Ops.MetricsEnabled {
		public.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	// Admission runs inside the handler, before the upgrade
	public.GET("/ws/:session_id", wsHandler.HandleConnection)

	protected.GET("/terminals/:session_id", handlers.TerminalStatus)
	protected.DELETE("/terminals/:session_id", handlers.TerminateTerminals)
	protected.GET("/assistant/:session_id/status", handlers.AssistantStatus)
	protected.GET("/assistant/:session_id/messages", handlers.AssistantMessages)
	protected.POST("/assistant/:session_id/messages", handlers.SendAssistantMessage)

	protected.GET("/sessions", handlers.ListSessions)
	protected.POST("/sessions", handlers.CreateSession)
	protected.PUT("/sessions/:session_id/members/:user_id", handlers.PutMember)
	protected.DELETE("/sessions/:session_id/members/:user_id", handlers.DeleteMember)

	return router
}

// applySeed loads the seed file and writes it into the store
func applySeed(st *store.Store, path string, logger *zap.Logger) error {
	seed, err := store.LoadSeed(path)
	if err != nil {
		return fmt.Errorf("failed to load seed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	stats, err := st.ApplySeed(ctx, seed)
	if err != nil {
		return fmt.Errorf("failed to apply seed: %w", err)
	}
	logger.Info("Store seeded",
		zap.String("path", path),
		zap.Int("sessions_created", stats.Created),
		zap.Int("sessions_existing", stats.Existing),
		zap.Int("members", stats.Members),
		zap.Int("subscriptions", stats.Subscriptions),
	)
	return nil
}

// newVerifier chains every configured credential source. With none
// configured every credential is refused.
func newVerifier(cfg config.AuthConfig, logger *zap.Logger) (auth.Chain, error) {
	var chain auth.Chain

	if cfg.Secret != "" {
		jwt, err := auth.NewJWTManager(cfg.Secret, cfg.TokenTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create token verifier: %w", err)
		}
		chain = append(chain, jwt)
	}

	if len(cfg.StaticKeys) > 0 {
		keys, err := auth.ParseStaticKeys(cfg.StaticKeys)
		if err != nil {
			return nil, fmt.Errorf("failed to parse static keys: %w", err)
		}
		chain = append(chain, keys)
		logger.Info("Static service keys loaded", zap.Int("count", keys.Len()))
	}

	if len(chain) == 0 {
		logger.Warn("No credential verifier configured, every connection will be refused")
	}
	return chain, nil
}

func newBackend(cfg config.AssistantConfig, logger *zap.Logger) (assistant.Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "echo":
		return &assistant.EchoBackend{}, nil
	case "cli":
		return assistant.NewCLIBackend(cfg.Binary, logger), nil
	case "http":
		backend, err := assistant.NewHTTPBackend(assistant.HTTPOptions{
			BaseURL: cfg.URL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create assistant backend: %w", err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown assistant backend %q", cfg.Backend)
	}
}

// loadProfile reads the configured profile; relative names resolve under the
// workspace profiles directory
func loadProfile(name string, layout paths.Layout) (assistant.Profile, error) {
	if name == "" {
		return assistant.DefaultProfile(), nil
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(layout.ProfilesDir(), name)
	}
	profile, err := assistant.LoadProfile(path)
	if err != nil {
		return assistant.Profile{}, fmt.Errorf("failed to load assistant profile: %w", err)
	}
	return profile, nil
}

// launch builds the manager for a terminal key. Both kinds work in the
// session's workspace directory and stream output to every subscriber.
func (s *Server) launch(key terminal.Key, entitled bool) (terminal.Manager, error) {
	if err := s.layout.Validate(key.SessionID); err != nil {
		return nil, err
	}
	dir := s.layout.SessionDir(key.SessionID)

	opts := terminal.Options{
		Key:             key,
		WorkDir:         dir,
		Shell:           s.config.Terminal.Shell,
		PollTimeout:     s.config.Terminal.PollTimeout,
		InitDelay:       s.config.Terminal.InitDelay,
		KillGrace:       s.config.Terminal.KillGrace,
		ScrollbackBytes: s.config.Terminal.ScrollbackBytes,
		Output:          s.fanout,
		Logger:          s.logger.Logger,
	}

	if key.Kind != terminal.KindAssisted {
		return terminal.NewPlain(opts), nil
	}

	sub := assistant.NewSession(key.SessionID, dir, s.backend, s.profile, s.logger.Logger)
	mgr, err := terminal.NewAssisted(opts, entitled, sub)
	if err != nil {
		return nil, err
	}
	return mgr, nil
}

// fanout broadcasts shell output to every connection of the terminal's
// session, whichever shell it attached to. Frames carry the producing kind
// in data.terminal and clients render only their own.
func (s *Server) fanout(key terminal.Key, data []byte) {
	s.conns.BroadcastToSession(protocol.TerminalOutput(key.SessionID, string(key.Kind), data), key.SessionID)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP and the gRPC health service until ctx is cancelled or a
// listener fails
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	if addr := s.config.Ops.GRPCHealthAddr; addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen for health checks: %w", err)
		}
		s.logger.Info("Starting gRPC health server", zap.String("addr", lis.Addr().String()))
		go func() { errCh <- s.health.serve(lis) }()
	}

	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	s.health.setServing(true)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Close gracefully shuts down the server. Connections go first so no new
// input reaches terminals that are about to be killed.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("Shutting down server...")
		s.health.setServing(false)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP shutdown failed", zap.Error(err))
			s.closeErr = err
		}

		s.conns.CloseAll()
		s.terminals.Shutdown()
		s.health.stop()

		if err := s.store.Close(); err != nil {
			s.logger.Error("Failed to close store", zap.Error(err))
			s.closeErr = errors.Join(s.closeErr, err)
		}
		s.tracer.Close()

		s.logger.Info("Server stopped")
		s.logger.Sync()
	})
	return s.closeErr
}
