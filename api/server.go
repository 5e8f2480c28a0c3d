package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bombom/pumpkin/pkg/guard"
	"github.com/bombom/pumpkin/pkg/server"
)

// Controller is the view of the server controller exposed over HTTP.
type Controller interface {
	Status(ctx context.Context, detail bool) (server.Snapshot, error)
	Busy() bool
	Guard() *guard.Guard
}

// Server is the ops HTTP API. It runs next to the Discord bot and neither
// blocks the other.
type Server struct {
	ctrl        Controller
	httpServer  *http.Server
	logger      *log.Logger
	bearerToken string

	// wg tracks graceful shutdown completion
	wg sync.WaitGroup

	// cancel is stored to allow Stop() to cancel the Start() context
	cancel   context.CancelFunc
	cancelMu sync.Mutex
}

// NewServer creates a new API server listening on port (e.g. "3001").
// The bearer token is required for every endpoint except /health.
func NewServer(ctrl Controller, port string, bearerToken string, logger *log.Logger) *Server {
	return &Server{
		ctrl:        ctrl,
		bearerToken: bearerToken,
		logger:      logger.With("component", "api"),
		httpServer: &http.Server{
			Addr:         ":" + port,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Handler builds the routed handler with the middleware chain applied.
// Execution order (outer to inner): SecurityHeaders → Logger → RateLimit → BearerAuth
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, s)

	var handler http.Handler = mux
	handler = BearerAuth(s.bearerToken)(handler)
	handler = RateLimit(10, 20, ctx)(handler) // 10 req/sec, burst 20
	handler = Logger(s.logger)(handler)
	handler = SecurityHeaders()(handler)
	return handler
}

// Start serves until ctx is cancelled or Stop is called, then shuts down
// gracefully. It returns an error if the shutdown fails.
func (s *Server) Start(ctx context.Context) error {
	serverCtx, serverCancel := context.WithCancel(ctx)

	s.cancelMu.Lock()
	s.cancel = serverCancel
	s.cancelMu.Unlock()

	s.httpServer.Handler = s.Handler(serverCtx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("API server listening", "addr", s.httpServer.Addr)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "err", err)
			serverCancel()
		}
	}()

	<-serverCtx.Done()
	s.logger.Info("shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}

	s.wg.Wait()
	s.logger.Info("API server stopped")
	return nil
}

// Stop cancels Start and waits for in-flight requests, up to 30 seconds.
func (s *Server) Stop() error {
	s.cancelMu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancelMu.Unlock()

	s.wg.Wait()
	return nil
}
