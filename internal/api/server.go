// Package api exposes the engine to the host application over a local HTTP
// API: enqueueing actions, reading and flushing the queue, reporting
// connectivity and forwarding alert interactions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/valter-silva-au/duealert/internal/core"
	"github.com/valter-silva-au/duealert/pkg/models"
)

// Engine is the slice of core.Engine the API drives.
type Engine interface {
	Enqueue(ctx context.Context, actionType string, payload json.RawMessage) (models.QueuedAction, error)
	Flush(ctx context.Context) (core.FlushResult, error)
	QueueSize() int
	PendingActions(ctx context.Context) ([]models.QueuedAction, error)
	ReportConnectivity(online bool)
	Interact(tag string, action models.AlertActionType) error
	Preview(ctx context.Context) ([]models.AlertItem, error)
	ScanNow(ctx context.Context) (core.ScanReport, error)
	Status() core.EngineStatus
}

// Server serves the host API.
type Server struct {
	engine Engine
	log    logrus.FieldLogger
	router *gin.Engine
}

// NewServer builds the router for engine.
func NewServer(engine Engine, log logrus.FieldLogger) *Server {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine: engine,
		log:    log.WithField("component", "api"),
		router: gin.New(),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.registerRoutes(s.router.Group("/v1"))
	return s
}

func (s *Server) registerRoutes(v1 *gin.RouterGroup) {
	v1.GET("/status", s.getStatus)
	v1.POST("/actions", s.postAction)
	v1.GET("/queue", s.getQueue)
	v1.POST("/queue/flush", s.postFlush)
	v1.POST("/connectivity", s.postConnectivity)
	v1.POST("/alerts/:tag/interactions", s.postInteraction)
	v1.GET("/alerts/preview", s.getPreview)
	v1.POST("/scan", s.postScan)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("host API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving host API: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down host API: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request")
	}
}
