package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/formy-ai/formy/pkg/logger/log"
	"github.com/gin-gonic/gin"
)

// Server wraps the HTTP listener with graceful shutdown.
type Server struct {
	httpServer *http.Server
}

// New creates a server on the given port.
func New(port int, handler *gin.Engine) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	log.Infof("http server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
