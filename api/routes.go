package api

import (
	"net/http"
)

// RegisterRoutes registers all API routes with the given mux
// Middleware is applied externally (auth, rate limit, logger)
func RegisterRoutes(mux *http.ServeMux, s *Server) {
	// Health check (no auth required, but rate limited)
	mux.HandleFunc("GET /health", HealthCheck)

	mux.HandleFunc("GET /api/status", s.GetStatus)
	mux.HandleFunc("GET /api/guard", s.GetGuard)
	mux.HandleFunc("POST /api/guard/enable", s.EnableGuard)
	mux.HandleFunc("POST /api/guard/disable", s.DisableGuard)
}
