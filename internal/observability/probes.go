package observability

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"
)

// ReadinessReport is the readiness response body.
type ReadinessReport struct {
	Status map[string]string `json:"status"`
}

func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness answers 503 when any checker fails within the configured timeout.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	report := ReadinessReport{Status: make(map[string]string, len(s.checkers))}
	healthy := true

	var mu sync.Mutex
	var g errgroup.Group
	for _, checker := range s.checkers {
		g.Go(func() error {
			err := checker.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("health probe failed",
					slog.String("component", checker.Name()),
					slog.String("error", err.Error()),
				)
				report.Status[checker.Name()] = "down: " + err.Error()
				healthy = false
				return nil
			}
			report.Status[checker.Name()] = "up"
			return nil
		})
	}
	_ = g.Wait()

	if healthy {
		render.Status(r, http.StatusOK)
	} else {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, report)
}
