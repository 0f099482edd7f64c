// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mosacloud/drive/internal/auth"
	"github.com/mosacloud/drive/internal/drive"
	"github.com/mosacloud/drive/internal/events"
	"github.com/mosacloud/drive/internal/logging"
	"github.com/mosacloud/drive/internal/metrics"
	"github.com/mosacloud/drive/internal/navigation"
	"github.com/mosacloud/drive/internal/protocol"
	"github.com/mosacloud/drive/internal/ratelimit"
	"github.com/mosacloud/drive/internal/session"
)

// Pinger checks that the drive API is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps bundles what the server needs.
type Deps struct {
	Tracker  *navigation.Tracker
	Lookup   drive.Lookup
	Sessions session.Backend
	Auth     *auth.Authenticator
	Limiter  *ratelimit.Limiter
	// RequestsPerMinute is the per-session budget; 0 disables limiting.
	RequestsPerMinute int
	// Broadcaster feeds the event stream; nil disables it.
	Broadcaster *events.Broadcaster
	// Pinger is optional.
	Pinger Pinger
}

// Server is the HTTP server.
type Server struct {
	tracker     *navigation.Tracker
	lookup      drive.Lookup
	sessions    session.Backend
	auth        *auth.Authenticator
	limiter     *ratelimit.Limiter
	rpm         int
	broadcaster *events.Broadcaster
	pinger      Pinger
}

// NewServer creates a new server.
func NewServer(d Deps) *Server {
	s := &Server{
		tracker:     d.Tracker,
		lookup:      d.Lookup,
		sessions:    d.Sessions,
		auth:        d.Auth,
		limiter:     d.Limiter,
		rpm:         d.RequestsPerMinute,
		broadcaster: d.Broadcaster,
		pinger:      d.Pinger,
	}
	if s.auth == nil {
		s.auth = auth.New()
	}
	if s.limiter == nil {
		s.limiter = ratelimit.New()
	}
	return s
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/routes", s.handleRoutes)

	// Navigation triggers
	s.handle(mux, "GET /api/v1/navigation", s.handleMarks)
	s.handle(mux, "DELETE /api/v1/navigation", s.handleClear)
	s.handle(mux, "POST /api/v1/navigation/routes/{route}", s.handleEnterRoute)
	s.handle(mux, "POST /api/v1/navigation/items/{id}", s.handleNavigateTo)
	s.handle(mux, "POST /api/v1/navigation/items/{id}/deleted", s.handleDeleted)
	s.handle(mux, "POST /api/v1/navigation/attempted-url", s.handleAttemptedURL)
	s.handle(mux, "GET /api/v1/navigation/landing", s.handleLanding)

	// Trails and menus
	s.handle(mux, "GET /api/v1/breadcrumbs", s.handleTrail)
	s.handle(mux, "GET /api/v1/breadcrumbs/{id}", s.handleTrail)
	s.handle(mux, "GET /api/v1/items/{id}/actions", s.handleItemActions)
	s.handle(mux, "GET /api/v1/create-menu", s.handleCreateMenu)
	s.handle(mux, "GET /api/v1/items/{id}/create-menu", s.handleCreateMenu)

	// SSE endpoint
	if s.broadcaster != nil {
		s.handle(mux, "GET /api/v1/navigation/events", s.handleEvents)
	}

	// Logging must come first: it replaces the request, and the metrics
	// middleware reads the pattern the mux sets on it.
	return logging.Middleware(metrics.Middleware(mux))
}

// handle registers h behind credential forwarding, auth and the rate
// limiter.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	limited := ratelimit.Middleware(s.limiter, s.rpm, limitKey)(h)
	mux.Handle(pattern, withCredentials(s.auth.Middleware(limited)))
}

func withCredentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := drive.WithCredentials(r.Context(), drive.CredentialsFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// limitKey charges requests to their navigation session, then to the
// verified principal, then to the remote address.
func limitKey(r *http.Request) string {
	if id := r.Header.Get(session.HeaderName); id != "" {
		return "session:" + id
	}
	if c, err := r.Cookie(session.CookieName); err == nil && c.Value != "" {
		return "session:" + c.Value
	}
	if p := auth.GetPrincipal(r.Context()); p != nil && p.Subject != "" {
		return "principal:" + p.Subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := protocol.HealthResponse{Status: "ok"}
	if s.sessions != nil {
		resp.Backend = s.sessions.Name()
	}
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			logging.WithContext(r.Context()).Warn("drive api unreachable", logging.Err(err))
			resp.Status = "degraded"
			resp.Drive = "unreachable"
		} else {
			resp.Drive = "ok"
		}
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

// handleEvents streams the navigation events of the caller's session.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	store, ok := s.openSession(w, r)
	if !ok {
		return
	}

	// Subscribed before the headers go out, so a client that saw the
	// response sees every later event.
	ch := s.broadcaster.SubscribeSession(store.Fingerprint())
	defer s.broadcaster.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Server) openSession(w http.ResponseWriter, r *http.Request) (session.Store, bool) {
	store, err := s.sessions.Open(w, r)
	if err != nil {
		logging.WithContext(r.Context()).Error("open navigation session", logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "navigation session unavailable")
		return nil, false
	}
	return store, true
}

// sendLookupError maps a drive lookup failure to a response.
func (s *Server) sendLookupError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, drive.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "item not found")
	case errors.Is(err, drive.ErrForbidden):
		s.sendError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, drive.ErrUnauthenticated):
		s.sendError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, context.DeadlineExceeded):
		s.sendError(w, http.StatusGatewayTimeout, "drive api timed out")
	default:
		logging.WithContext(r.Context()).Error("drive lookup failed", logging.Err(err))
		s.sendError(w, http.StatusBadGateway, "drive api unavailable")
	}
}

// sendStoreError reports a failure to read or write the navigation
// context.
func (s *Server) sendStoreError(w http.ResponseWriter, r *http.Request, err error) {
	logging.WithContext(r.Context()).Error("navigation context", logging.Err(err))
	s.sendError(w, http.StatusInternalServerError, "navigation context unavailable")
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// queryBool reads a boolean query parameter. Missing or malformed
// values are false.
func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}
