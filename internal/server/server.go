// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/quotaguard/quotaguard/internal/audit"
	"github.com/quotaguard/quotaguard/internal/budget"
	"github.com/quotaguard/quotaguard/internal/config"
	"github.com/quotaguard/quotaguard/internal/device"
	"github.com/quotaguard/quotaguard/internal/health"
	"github.com/quotaguard/quotaguard/internal/limits"
	"github.com/quotaguard/quotaguard/internal/lockout"
	"github.com/quotaguard/quotaguard/internal/logging"
	"github.com/quotaguard/quotaguard/internal/metrics"
	"github.com/quotaguard/quotaguard/internal/quota"
	"github.com/quotaguard/quotaguard/internal/realtime"
	"github.com/quotaguard/quotaguard/internal/security"
	"github.com/quotaguard/quotaguard/internal/usage"
	"github.com/quotaguard/quotaguard/internal/validation"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	configs      limits.Store
	ledger       *usage.Ledger
	budgets      *budget.Tracker
	lockouts     *lockout.Machine
	devices      *device.Registry
	recorder     *audit.Recorder
	evaluator    *quota.Evaluator
	realtimeHub  *realtime.Hub
	janitor      *usage.Janitor
	healthReg    *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Create realtime hub first so the audit recorder can stream into it
	s.realtimeHub = realtime.NewHub(s.logger)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db

		ctx := context.Background()

		configStore := limits.NewPostgresStore(db)
		if err := configStore.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate config tables: %w", err)
		}
		usageStore := usage.NewPostgresStore(db)
		if err := usageStore.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate usage tables: %w", err)
		}
		budgetStore := budget.NewPostgresStore(db)
		if err := budgetStore.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate budget tables: %w", err)
		}
		lockoutStore := lockout.NewPostgresStore(db)
		if err := lockoutStore.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate lockout tables: %w", err)
		}
		deviceStore := device.NewPostgresStore(db)
		if err := deviceStore.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate device tables: %w", err)
		}
		auditStore := audit.NewPostgresStore(db)
		if err := auditStore.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate audit tables: %w", err)
		}

		s.configs = configStore
		s.ledger = usage.NewLedger(usageStore)
		s.budgets = budget.NewTracker(budgetStore)
		s.lockouts = lockout.NewMachine(lockoutStore, lockout.Policy{
			MaxAttempts:     cfg.MaxAttempts,
			LockoutDuration: cfg.LockoutDuration,
		})
		s.devices = device.NewRegistry(deviceStore)
		s.recorder = audit.NewRecorder(auditStore, s.realtimeHub)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Healthy: false, Detail: err.Error()}
			}
			return health.Status{Healthy: true}
		})
	} else {
		s.configs = limits.NewMemoryStore()
		s.ledger = usage.NewLedger(usage.NewMemoryStore())
		s.budgets = budget.NewTracker(budget.NewMemoryStore())
		s.lockouts = lockout.NewMachine(lockout.NewMemoryStore(), lockout.Policy{
			MaxAttempts:     cfg.MaxAttempts,
			LockoutDuration: cfg.LockoutDuration,
		})
		s.devices = device.NewRegistry(device.NewMemoryStore())
		s.recorder = audit.NewRecorder(audit.NewMemoryStore(), s.realtimeHub)
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.evaluator = quota.NewEvaluator(s.configs, s.ledger, s.budgets, s.lockouts, s.devices, s.recorder, quota.Options{
		OpTimeout:     cfg.OpTimeout,
		FailOpenUsage: cfg.FailOpenUsage,
	})

	s.janitor = usage.NewJanitor(s.ledger, cfg.PruneInterval, s.logger)
	s.healthReg.Register("janitor", func(ctx context.Context) health.Status {
		return health.Status{Healthy: s.janitor.Running()}
	})

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(security.CORSMiddleware(origins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// adminAuthMiddleware guards admin routes with the X-Admin-Secret header.
// In development without a secret configured, admin routes are open.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			if s.cfg.IsProduction() {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "admin_disabled",
					"message": "Admin API is not configured",
				})
				return
			}
			c.Next()
			return
		}

		secret := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid admin secret",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	// Decision endpoints
	quotaHandler := quota.NewHandler(s.evaluator, s.logger)
	quotaHandler.RegisterRoutes(v1)

	// Device management
	deviceHandler := device.NewHandler(s.devices, s.recorder, s.logger)
	deviceHandler.RegisterRoutes(v1)

	// WebSocket audit stream, admin-gated like the trail itself
	v1.GET("/audit/stream", s.adminAuthMiddleware(), func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// Admin routes (config and audit trail)
	admin := v1.Group("/admin")
	admin.Use(s.adminAuthMiddleware())

	configHandler := limits.NewHandler(s.configs, s.recorder, s.logger)
	configHandler.RegisterRoutes(admin)

	auditHandler := audit.NewHandler(s.recorder, s.logger)
	auditHandler.RegisterRoutes(admin)

	admin.GET("/stream/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "QuotaGuard",
		"description": "Quota, budget, and lockout decision engine",
		"version":     "0.1.0",
	})
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start bucket garbage collection
	go s.janitor.Start(runCtx)

	// Start DB stats collector
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, janitor)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Evaluator returns the decision engine for testing
func (s *Server) Evaluator() *quota.Evaluator {
	return s.evaluator
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
