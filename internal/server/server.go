// Package server exposes the question-answering pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Aman-CERP/podrag/internal/rag"
)

const shutdownTimeout = 10 * time.Second

// Answerer answers questions. *rag.Pipeline implements it.
type Answerer interface {
	Ask(ctx context.Context, question string, opts rag.AskOptions) (rag.Answer, error)
}

// StatsFunc reports index statistics.
type StatsFunc func(ctx context.Context) (rag.Stats, error)

// Server is the HTTP API.
type Server struct {
	answerer Answerer
	stats    StatsFunc
	engine   *gin.Engine
}

// New creates the server and registers its routes.
func New(answerer Answerer, stats StatsFunc) *Server {
	engine := gin.New()
	engine.Use(requestID(), accessLog(), gin.Recovery())

	s := &Server{answerer: answerer, stats: stats, engine: engine}
	engine.GET("/health", s.handleHealth)

	api := engine.Group("/api")
	{
		api.POST("/search", s.handleSearch)
		api.GET("/stats", s.handleStats)
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	slog.Info("server_listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server_stopped")
	return nil
}
