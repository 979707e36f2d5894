package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Triggerer requests a pulse outside the periodic schedule.
type Triggerer interface {
	Trigger(source string)
}

type Server struct {
	Engine    *gin.Engine
	Addr      string
	db        *sql.DB
	triggerer Triggerer
}

func New(addr string, db *sql.DB, triggerer Triggerer, registry *prometheus.Registry, mode string) *Server {
	// Set Gin mode based on configuration
	if mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	s := &Server{
		Engine:    r,
		Addr:      addr,
		db:        db,
		triggerer: triggerer,
	}

	// Health check endpoint with database connectivity verification
	r.GET("/health", s.healthHandler)

	if registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	if triggerer != nil {
		r.POST("/v1/pulse", s.pulseHandler)
	}

	return s
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	// Check database connectivity
	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			slog.Error("Health check failed: database unreachable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database unreachable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "connected",
	})
}

// pulseHandler queues an out-of-band pulse. The pulse itself runs on the
// scheduler goroutine, so this returns before any claiming happens.
func (s *Server) pulseHandler(c *gin.Context) {
	s.triggerer.Trigger("http")
	c.JSON(http.StatusAccepted, gin.H{
		"status": "pulse requested",
	})
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Addr,
		Handler: s.Engine,
	}

	slog.Info("Starting HTTP Server...", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("Stopping HTTP Server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP Server forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
