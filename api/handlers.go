package api

import (
	"net/http"

	"github.com/bombom/pumpkin/pkg/cloud"
)

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Instance cloud.InstanceStatus `json:"instance"`
	Enabled  bool                 `json:"enabled"`
	Busy     bool                 `json:"busy"`
	Game     string               `json:"game,omitempty"`
	Port     int                  `json:"port,omitempty"`
	Players  int                  `json:"players"`
}

// GuardResponse is returned by the guard endpoints.
type GuardResponse struct {
	State   string `json:"state"`
	Changed bool   `json:"changed"`
}

// HealthCheck returns 200 OK if the API server is running
// No authentication required (used for health checks)
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "pumpkin-api",
	})
}

// GetStatus describes the instance and the current game.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.Context().Err(); err != nil {
		WriteError(w, http.StatusServiceUnavailable, "Service unavailable", "Request cancelled")
		return
	}
	snap, err := s.ctrl.Status(r.Context(), false)
	if err != nil {
		s.logger.Error("status failed", "err", err)
		WriteError(w, http.StatusBadGateway, "Could not reach the instance", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, StatusResponse{
		Instance: snap.Instance,
		Enabled:  snap.Enabled,
		Busy:     s.ctrl.Busy(),
		Game:     snap.Game,
		Port:     snap.Port,
		Players:  snap.Players,
	})
}

// GetGuard reports whether server commands are enabled.
func (s *Server) GetGuard(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, GuardResponse{State: s.ctrl.Guard().String()})
}

// EnableGuard re-enables server commands after maintenance.
func (s *Server) EnableGuard(w http.ResponseWriter, r *http.Request) {
	g := s.ctrl.Guard()
	changed := g.Enable()
	if changed {
		s.logger.Info("server commands enabled via API")
	}
	WriteJSON(w, http.StatusOK, GuardResponse{State: g.String(), Changed: changed})
}

// DisableGuard disables server commands for maintenance.
func (s *Server) DisableGuard(w http.ResponseWriter, r *http.Request) {
	g := s.ctrl.Guard()
	changed := g.Disable()
	if changed {
		s.logger.Info("server commands disabled via API")
	}
	WriteJSON(w, http.StatusOK, GuardResponse{State: g.String(), Changed: changed})
}
