// Package api serves the operator HTTP API and the live event stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"signal-trading-bot/internal/auth"
	"signal-trading-bot/internal/bot"
	"signal-trading-bot/internal/database"
	"signal-trading-bot/internal/events"
	"signal-trading-bot/internal/orders"
	"signal-trading-bot/internal/signal"
)

// Operator is the bot control surface the handlers drive
type Operator interface {
	SetTradingEnabled(ctx context.Context, enabled bool, source string) error
	Stats() bot.Stats
	AnalyzeSymbol(ctx context.Context, symbol string) (*bot.Analysis, error)
	Reconcile(ctx context.Context) (*orders.ReconcileReport, error)
	ClearDedup() int
}

// Journal reads recorded events
type Journal interface {
	RecentEvents(ctx context.Context, eventType string, limit int) ([]database.JournalEntry, error)
}

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RateLimiter limits requests per client and route
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows limit requests per window per key
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = l
	}
	r.mu.Unlock()
	return l.Allow()
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host             string
	Port             int
	ProductionMode   bool
	AllowedOrigins   []string
	JWTSecret        string
	TokenTTL         time.Duration
	OperatorUser     string
	OperatorPassHash string
}

// Deps are the server collaborators. Journal and Health may be nil.
type Deps struct {
	Operator Operator
	Bus      *events.EventBus
	Inbox    chan<- signal.Message
	Journal  Journal
	Health   HealthChecker
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      ServerConfig
	deps        Deps
	jwt         *auth.JWTManager
	hub         *WSHub
	rateLimiter *RateLimiter
	started     time.Time
	logger      zerolog.Logger
}

// NewServer creates a new API server
func NewServer(config ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	switch {
	case slices.Contains(config.AllowedOrigins, "*"):
		corsConfig.AllowAllOrigins = true
	case len(config.AllowedOrigins) > 0:
		corsConfig.AllowOrigins = config.AllowedOrigins
		corsConfig.AllowCredentials = true
	default:
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8090"}
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		config:      config,
		deps:        deps,
		hub:         NewWSHub(logger),
		rateLimiter: NewRateLimiter(30, time.Minute),
		started:     time.Now(),
		logger:      logger.With().Str("component", "api").Logger(),
	}
	router.Use(s.requestLogger())
	if config.JWTSecret != "" {
		s.jwt = auth.NewJWTManager(config.JWTSecret, config.TokenTTL)
	}

	s.setupRoutes()
	s.hub.Attach(deps.Bus)
	return s
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/api/login", s.rateLimitMiddleware(), s.handleLogin)

	api := s.router.Group("/api")
	if s.jwt != nil {
		api.Use(auth.Middleware(s.jwt))
	}
	{
		api.GET("/stats", s.handleStats)
		api.POST("/trading/enable", s.handleSetTrading(true))
		api.POST("/trading/disable", s.handleSetTrading(false))
		api.POST("/analyze/:symbol", s.rateLimitMiddleware(), s.handleAnalyze)
		api.POST("/signals", s.handleSubmitSignal)
		api.POST("/reconcile", s.rateLimitMiddleware(), s.handleReconcile)
		api.POST("/dedup/clear", s.handleClearDedup)
		api.GET("/journal", s.handleJournal)
	}

	ws := s.router.Group("/ws")
	if s.jwt != nil {
		ws.Use(s.queryTokenMiddleware())
	}
	ws.GET("", s.handleWebSocket)
}

// rateLimitMiddleware limits calls that reach the exchange
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP() + " " + c.FullPath()) {
			errorResponse(c, http.StatusTooManyRequests, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

// queryTokenMiddleware accepts the bearer token as ?token= since browsers cannot set
// headers on websocket upgrades
func (s *Server) queryTokenMiddleware() gin.HandlerFunc {
	check := auth.Middleware(s.jwt)
	return func(c *gin.Context) {
		if tok := c.Query("token"); tok != "" && c.GetHeader("Authorization") == "" {
			c.Request.Header.Set("Authorization", "Bearer "+tok)
		}
		check(c)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.hub.Run()
	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server and closes websocket clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	s.hub.Stop()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
