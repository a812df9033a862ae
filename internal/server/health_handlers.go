package server

import (
	"net/http"
	"time"
)

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Database  string                 `json:"database"`
	Songs     int                    `json:"songCount"`
	Playing   int                    `json:"playing"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// handleHealthCheck returns basic liveness + dependency checks.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Database:  "ok",
		Songs:     s.playlist.Len(),
		Playing:   s.playlist.PlayingIndex(),
		Details:   make(map[string]interface{}),
	}

	if s.db == nil {
		health.Database = "disabled"
	} else if err := s.db.Ping(); err != nil {
		health.Status = "unhealthy"
		health.Database = "error"
		health.Details["database_error"] = err.Error()
	}

	s.mutex.Lock()
	if s.inbox != nil {
		health.Details["inbox"] = s.config.Library.InboxDir
	}
	s.mutex.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.respondJSON(w, health)
}
