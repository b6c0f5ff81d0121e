package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/paceline-project/paceline/internal/anchor"
	"github.com/paceline-project/paceline/internal/config"
	"github.com/paceline-project/paceline/internal/events"
	"github.com/paceline-project/paceline/internal/journal"
	"github.com/paceline-project/paceline/internal/relay"
	"github.com/paceline-project/paceline/internal/util"
)

// Server is the REST API server for Paceline.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	client   *relay.Client
	engine   *anchor.Engine
	journal  *journal.Journal

	stream *EventStream

	// HTTP server
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server. The journal may be nil when
// journaling is disabled.
func NewServer(cfg *config.Config, eventBus *events.EventBus, client *relay.Client, engine *anchor.Engine, jnl *journal.Journal) *Server {
	// Set Gin mode based on log level
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		eventBus: eventBus,
		client:   client,
		engine:   engine,
		journal:  jnl,
		stream:   NewEventStream(eventBus),
	}
}

// Start initializes and starts the API server. It blocks until the server
// stops; cancelling ctx triggers a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	apiCfg := s.cfg.GetApplicationData().API
	addr := fmt.Sprintf(":%d", apiCfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Create listener with SO_REUSEADDR for immediate rebinding after restart
	lc := util.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	var serveErr error
	if apiCfg.UseTLS {
		if err := ensureCertificate(apiCfg); err != nil {
			ln.Close()
			return fmt.Errorf("API server error: %w", err)
		}
		log.Info().Str("addr", addr).Bool("tls", true).Msg("REST API server starting")
		serveErr = s.httpServer.ServeTLS(ln, apiCfg.CertFile, apiCfg.KeyFile)
	} else {
		log.Info().Str("addr", addr).Msg("REST API server starting")
		serveErr = s.httpServer.Serve(ln)
	}
	if serveErr != nil && serveErr != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", serveErr)
	}
	return nil
}

// ensureCertificate generates a self-signed certificate when the configured
// cert or key file does not exist yet.
func ensureCertificate(apiCfg config.APIConfig) error {
	if apiCfg.CertFile == "" || apiCfg.KeyFile == "" {
		return fmt.Errorf("use_tls is set but cert_file or key_file is empty")
	}

	_, certErr := os.Stat(apiCfg.CertFile)
	_, keyErr := os.Stat(apiCfg.KeyFile)
	if certErr == nil && keyErr == nil {
		return nil
	}

	if err := util.EnsureDir(filepath.Dir(apiCfg.CertFile)); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}
	return util.GenerateSelfSignedCert(apiCfg.CertFile, apiCfg.KeyFile)
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	// CORS
	apiCfg := s.cfg.GetApplicationData().API
	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	// Rate limiting
	rateLimiter := NewRateLimiter(apiCfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/status", s.handleStatus)
		api.GET("/participants", s.handleParticipants)
		api.GET("/participants/:id", s.handleParticipant)
		api.GET("/history", s.handleHistory)
		api.GET("/sessions", s.handleSessions)
		api.GET("/system", s.handleSystem)
		api.GET("/events", s.stream.Handle)

		api.POST("/reset/:id", s.handleReset)
		api.POST("/message/:id", s.handleMessage)
		api.POST("/anchor", s.handleAnchor)
	}

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.stream.Close()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
