package server

import (
	"context"
	"net/http"
	"time"

	"github.com/AtoyanMikhail/newsauth/internal/logger"
)

const readyTimeout = 2 * time.Second

func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			s.logger.Warn("Dependency not ready", logger.String("dependency", name), logger.Error(err))
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}
