package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/mqtt-console/internal/journal"
	"github.com/nerrad567/mqtt-console/internal/session"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Get("/pending", s.handleListPending)
			r.Get("/events", s.handleListSessionEvents)
		})

		r.Get("/deliveries", s.handleListDeliveries)
	})

	r.Get(s.wsCfg.Path, s.handleWebSocket)

	return r
}

// handleHealth reports liveness. The API itself is up whenever it answers;
// "session" says whether the console is logged in. With a journal the
// report includes it, and a journal that fails its check turns the
// overall status to "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessionState := "connected"
	if err := s.session.HealthCheck(r.Context()); err != nil {
		sessionState = "disconnected"
	}

	body := map[string]any{
		"status":  "ok",
		"version": s.version,
		"session": sessionState,
	}
	if s.db != nil {
		journal := s.db.Health(r.Context())
		if journal.Status != "ok" {
			body["status"] = "degraded"
		}
		body["journal"] = journal
	}

	writeJSON(w, http.StatusOK, body)
}

// SessionResponse is the body of GET /api/v1/session.
type SessionResponse struct {
	session.Snapshot
	PendingRecords []session.Record `json:"pending_records"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	pending := s.session.Pending()
	if pending == nil {
		pending = []session.Record{}
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		Snapshot:       s.session.Status(),
		PendingRecords: pending,
	})
}

func (s *Server) handleListPending(w http.ResponseWriter, _ *http.Request) {
	pending := s.session.Pending()
	if pending == nil {
		pending = []session.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": pending,
		"count":   len(pending),
	})
}

// handleListDeliveries serves the delivery journal.
// Query: status=acknowledged|failed, identity, limit, offset.
func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "journal is disabled")
		return
	}

	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	result, err := s.journal.ListDeliveries(r.Context(), journal.Filter{
		Status:   q.Get("status"),
		Identity: q.Get("identity"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		if errors.Is(err, journal.ErrInvalidStatus) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("listing deliveries failed", "error", err)
		writeInternalError(w, "failed to list deliveries")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "journal is disabled")
		return
	}

	limit, err := queryInt(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}

	events, err := s.journal.ListSessionEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing session events failed", "error", err)
		writeInternalError(w, "failed to list session events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// queryInt parses an optional integer query parameter; empty is zero.
func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
