// file: internal/server/server.go
// version: 2.1.0
// guid: 4b5c6d7e-8f9a-0b1c-2d3e-4f5a6b7c8d9e

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jdfalk/dj-tagger/internal/cache"
	"github.com/jdfalk/dj-tagger/internal/config"
	"github.com/jdfalk/dj-tagger/internal/database"
	"github.com/jdfalk/dj-tagger/internal/duplicates"
	"github.com/jdfalk/dj-tagger/internal/fileops"
	"github.com/jdfalk/dj-tagger/internal/logger"
	"github.com/jdfalk/dj-tagger/internal/metrics"
	"github.com/jdfalk/dj-tagger/internal/operations"
	"github.com/jdfalk/dj-tagger/internal/realtime"
	"github.com/jdfalk/dj-tagger/internal/server/middleware"
)

const (
	version           = "1.0.0"
	heartbeatInterval = 5 * time.Second
	toolStatusTTL     = 30 * time.Second
	toolProbeTimeout  = 10 * time.Second
	maxJSONBodyBytes  = 1 << 20
	shutdownTimeout   = 30 * time.Second
)

// Dependencies are the components the HTTP layer drives
type Dependencies struct {
	Store       database.Store
	Coordinator *operations.Coordinator
	Grouper     *duplicates.Grouper
	Deleter     *fileops.Deleter
	Jobs        *operations.JobQueue
	Hub         *realtime.EventHub

	MusicDir           string
	Extensions         []string
	DefaultWorkers     int
	RateLimitPerMinute int // 0 disables rate limiting
}

// Server represents the HTTP server
type Server struct {
	deps       Dependencies
	httpServer *http.Server
	router     *gin.Engine
	toolStatus *cache.Cache[bool]
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates a new server instance
func NewServer(deps Dependencies) *Server {
	deps.DefaultWorkers = config.ClampWorkers(deps.DefaultWorkers)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(corsMiddleware())
	router.Use(middleware.MaxRequestBodySize(maxJSONBodyBytes))

	// Register metrics (idempotent)
	metrics.Register()

	server := &Server{
		deps:       deps,
		router:     router,
		toolStatus: cache.New[bool](toolStatusTTL),
	}

	server.setupRoutes()
	if deps.Coordinator != nil {
		server.refreshToolStatus()
	}

	return server
}

// Router exposes the gin engine, mainly for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves HTTP until SIGINT/SIGTERM, then drains the generation run and job queue
func (s *Server) Start(cfg ServerConfig) error {
	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", logger.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	stopHeartbeat := make(chan struct{})
	go s.heartbeat(stopHeartbeat)

	select {
	case err := <-serveErr:
		close(stopHeartbeat)
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}
	close(stopHeartbeat)

	logger.Info("shutting down server")

	s.deps.Hub.Broadcast(&realtime.Event{
		Type:      "system.shutdown",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"message": "Server is shutting down",
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.deps.Coordinator != nil {
		if err := s.deps.Coordinator.Shutdown(shutdownTimeout); err != nil {
			logger.Warn("fingerprint run did not drain", logger.Err(err))
		}
	}
	if s.deps.Jobs != nil {
		if err := s.deps.Jobs.Shutdown(shutdownTimeout); err != nil {
			logger.Warn("job queue did not drain", logger.Err(err))
		}
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

// heartbeat refreshes process gauges and pushes system.status events until stop is closed
func (s *Server) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.publishSystemStatus()
		case <-stop:
			return
		}
	}
}

func (s *Server) publishSystemStatus() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()

	trackCount, fpCount := -1, -1
	if s.deps.Store != nil {
		if n, err := s.deps.Store.CountTracks(); err == nil {
			trackCount = n
			metrics.SetTracks(n)
		} else {
			logger.Debug("heartbeat: count tracks failed", logger.Err(err))
		}
		if n, err := s.deps.Store.CountFingerprints(); err == nil {
			fpCount = n
			metrics.SetFingerprints(n)
		} else {
			logger.Debug("heartbeat: count fingerprints failed", logger.Err(err))
		}
	}
	metrics.SetMemoryAlloc(mem.Alloc)
	metrics.SetGoroutines(goroutines)

	s.deps.Hub.SendSystemStatus(map[string]interface{}{
		"tracks":       trackCount,
		"fingerprints": fpCount,
		"memory_alloc": mem.Alloc,
		"goroutines":   goroutines,
		"sse_clients":  s.deps.Hub.GetClientCount(),
		"timestamp":    time.Now().Unix(),
	})
}

// setupRoutes configures all the routes
func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/events", s.handleEvents)

	api := s.router.Group("/api/v1")
	if s.deps.RateLimitPerMinute > 0 {
		api.Use(middleware.NewIPRateLimiter(s.deps.RateLimitPerMinute, s.deps.RateLimitPerMinute/4).Middleware())
	}
	{
		api.GET("/health", s.healthCheck)

		// Fingerprint generation
		api.GET("/fingerprint/status", s.getFingerprintStatus)
		api.POST("/fingerprint/generate", s.startFingerprintGeneration)
		api.POST("/fingerprint/generate/:id", s.generateTrackFingerprint)
		api.POST("/fingerprint/stop", s.stopFingerprintGeneration)
		api.GET("/fingerprint/errors", s.listFingerprintErrors)

		// Duplicates
		api.GET("/duplicates", s.listDuplicates)
		api.GET("/duplicates/:key", s.getDuplicateGroup)
		api.POST("/duplicates/:key/resolve", s.resolveDuplicateGroup)

		// Tracks
		api.GET("/tracks", s.listTracks)
		api.GET("/tracks/:id", s.getTrack)
		api.DELETE("/tracks/:id/file", s.deleteTrackFile)

		// Library import jobs
		api.POST("/library/import", s.startLibraryImport)
		api.GET("/jobs", s.listJobs)
		api.GET("/jobs/:id", s.getJob)
		api.DELETE("/jobs/:id", s.cancelJob)
	}
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	resp := gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"version":   version,
	}
	if s.deps.Store == nil {
		resp["status"] = "degraded"
		c.JSON(http.StatusOK, resp)
		return
	}

	tracks, err := s.deps.Store.CountTracks()
	if err != nil {
		resp["status"] = "degraded"
		resp["partial_error"] = err.Error()
		c.JSON(http.StatusOK, resp)
		return
	}
	fps, err := s.deps.Store.CountFingerprints()
	if err != nil {
		resp["status"] = "degraded"
		resp["partial_error"] = err.Error()
	}
	resp["metrics"] = gin.H{
		"tracks":       tracks,
		"fingerprints": fps,
		"generating":   s.deps.Coordinator != nil && s.deps.Coordinator.Status().IsGenerating,
	}
	c.JSON(http.StatusOK, resp)
}

// handleEvents streams Server-Sent Events; ?run=<id> restricts the stream to one run
func (s *Server) handleEvents(c *gin.Context) {
	if s.deps.Hub == nil {
		RespondWithServiceUnavailable(c, "event hub not initialized", "")
		return
	}
	s.deps.Hub.HandleSSE(c)
}

// GetDefaultServerConfig returns default server configuration
func GetDefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:         "8080",
		Host:         "localhost",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}
}
