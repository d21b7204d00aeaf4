package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/WebPilotHQ/webpilot/internal/backend"
	"github.com/WebPilotHQ/webpilot/internal/config"
	"github.com/WebPilotHQ/webpilot/internal/logging"
	"github.com/WebPilotHQ/webpilot/internal/monitoring"
	"github.com/WebPilotHQ/webpilot/internal/orchestrator"
	"github.com/WebPilotHQ/webpilot/internal/persist"
	"github.com/WebPilotHQ/webpilot/internal/shared/id"
	"github.com/WebPilotHQ/webpilot/internal/ws"
)

// Server wires the orchestrator, tab hub, and HTTP surface together.
type Server struct {
	cfg     *config.Config
	log     *logging.Logger
	engine  *gin.Engine
	httpSrv *http.Server

	orch  *orchestrator.Orchestrator
	hub   *ws.Hub
	store persist.Store
}

// New builds a fully wired server from configuration.
func New(cfg *config.Config, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewDefault()
	}
	metrics := monitoring.NewMetrics()

	var store persist.Store
	if cfg.Redis.Enabled {
		store = persist.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			persist.WithTTL(cfg.Session.InactivityTTL))
		log.Info("using redis session store", zap.String("addr", cfg.Redis.Addr))
	} else {
		store = persist.NewMemoryStore()
		log.Info("using in-memory session store")
	}

	hub := ws.NewHub(log, metrics)
	backendClient := backend.New(backend.Config{
		BaseURL:   cfg.Backend.BaseURL,
		Timeout:   cfg.Backend.Timeout,
		RetryMax:  cfg.Backend.RetryMax,
		RateLimit: cfg.Backend.RateLimit,
		RateBurst: cfg.Backend.RateBurst,
	})

	orch := orchestrator.New(orchestrator.Config{
		InactivityTTL:    cfg.Session.InactivityTTL,
		QueueSize:        cfg.Session.QueueSize,
		BroadcastTimeout: cfg.Session.BroadcastTimeout,
	}, orchestrator.Deps{
		Store:     store,
		Transport: hub,
		Backend:   backendClient,
		Tabs:      hub,
		Logger:    log,
		Metrics:   metrics,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestID())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))
	engine.Use(monitoring.Middleware(metrics))

	handlers := NewHandlers(orch, log)
	wsHandler := ws.NewHandler(hub, orch, log)

	engine.GET("/health", handlers.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
	engine.GET("/ws", wsHandler.HandleConnection)

	api := engine.Group("/api")
	{
		api.GET("/state", handlers.GetState)
		api.GET("/state/:tab_id", handlers.GetStateForTab)

		sess := api.Group("/session")
		sess.POST("/start", handlers.StartSession)
		sess.POST("/entities", handlers.ConfirmEntities)
		sess.POST("/step", handlers.RequestStep)
		sess.POST("/action", handlers.ReportAction)
		sess.POST("/feedback", handlers.ReportFeedback)
		sess.POST("/retry", handlers.Retry)
		sess.POST("/skip", handlers.SkipStep)
		sess.POST("/end", handlers.EndSession)
	}

	return &Server{
		cfg:    cfg,
		log:    log,
		engine: engine,
		orch:   orch,
		hub:    hub,
		store:  store,
	}
}

// requestID tags every response with a request id, honoring one supplied
// by the caller so the extension can correlate its own logs.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = string(id.NewRequestID())
		}
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run restores any persisted session and serves until ctx is cancelled,
// then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	if err := s.orch.Initialize(initCtx); err != nil {
		s.log.Warn("session restore failed, starting idle", zap.Error(err))
	}
	cancel()

	addr := net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.Close()
}

// Close stops the orchestrator and releases the store.
func (s *Server) Close() error {
	s.orch.Close()
	if closer, ok := s.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
