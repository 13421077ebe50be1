package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"envelopes/internal/log"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().
		Message("ok").
		Data(map[string]string{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(s.started).Round(time.Second).String(),
		}).
		Write(w)
}

// handleReady reports ready once the store answers a cheap aggregate read.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := s.ledger.TotalBudget(ctx); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err.Error())
		ErrorResponse(http.StatusServiceUnavailable, "store unavailable").Write(w)
		return
	}
	NewJSONResponse().Message("ready").Write(w)
}

var routeMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}

// handleNotFound answers 405 with an Allow header when the path is routed
// for other methods, and 404 otherwise.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if allowed := s.allowedMethods(r); len(allowed) > 0 {
		MethodNotAllowedError(strings.Join(allowed, ", ")).Write(w)
		return
	}
	ErrorResponse(http.StatusNotFound, "no route for "+r.Method+" "+r.URL.Path).Write(w)
}

func (s *Server) allowedMethods(r *http.Request) []string {
	var allowed []string
	for _, method := range routeMethods {
		if method == r.Method {
			continue
		}
		probe := r.Clone(r.Context())
		probe.Method = method
		if _, pattern := s.mux.Handler(probe); pattern != "" && pattern != "/" {
			allowed = append(allowed, method)
		}
	}
	return allowed
}
