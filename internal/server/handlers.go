package server

import (
	"encoding/json"
	"net/http"
)

// handleHealth reports liveness plus the reachability of both SQLite
// stores. Any unreachable database degrades the response to 503 so an
// external monitor can tell "up" from "up but cannot record events".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	databases := make(map[string]string, len(s.databases))
	for _, db := range s.databases {
		if err := db.Conn().PingContext(r.Context()); err != nil {
			databases[db.Name()] = "unreachable"
			status = http.StatusServiceUnavailable
			continue
		}
		databases[db.Name()] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":    state,
		"service":   "mapleledger",
		"databases": databases,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
