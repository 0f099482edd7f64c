package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mosacloud/drive/internal/navigation"
	"github.com/mosacloud/drive/internal/protocol"
	"github.com/mosacloud/drive/internal/provenance"
)

const maxBodySize = 16 << 10

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, protocol.RoutesResponse{Routes: provenance.OrderedDefaultRoutes})
}

func (s *Server) handleMarks(w http.ResponseWriter, r *http.Request) {
	store, ok := s.openSession(w, r)
	if !ok {
		return
	}
	marks, err := s.tracker.Marks(r.Context(), store)
	if err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, marks)
}

func (s *Server) handleEnterRoute(w http.ResponseWriter, r *http.Request) {
	route := provenance.DefaultRoute(r.PathValue("route"))
	if !route.Valid() {
		s.sendError(w, http.StatusBadRequest, "unknown route")
		return
	}
	store, ok := s.openSession(w, r)
	if !ok {
		return
	}
	if err := s.tracker.EnterRoute(r.Context(), store, route); err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNavigateTo(w http.ResponseWriter, r *http.Request) {
	store, ok := s.openSession(w, r)
	if !ok {
		return
	}
	if err := s.tracker.NavigateTo(r.Context(), store, r.PathValue("id")); err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	store, ok := s.openSession(w, r)
	if !ok {
		return
	}
	if err := s.tracker.Clear(r.Context(), store); err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleted(w http.ResponseWriter, r *http.Request) {
	var req protocol.DeletedRequest
	if err := decodeOptional(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	store, ok := s.openSession(w, r)
	if !ok {
		return
	}
	d, err := s.tracker.AfterDelete(r.Context(), store, r.PathValue("id"), req.Path)
	if err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, d)
}

func (s *Server) handleAttemptedURL(w http.ResponseWriter, r *http.Request) {
	var req protocol.AttemptedURLRequest
	if err := decodeOptional(r, &req); err != nil || req.URL == "" {
		s.sendError(w, http.StatusBadRequest, "url is required")
		return
	}
	store, ok := s.openSession(w, r)
	if !ok {
		return
	}
	err := s.tracker.RememberAttemptedURL(r.Context(), store, req.URL)
	switch {
	case errors.Is(err, navigation.ErrInvalidURL):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.sendStoreError(w, r, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	store, ok := s.openSession(w, r)
	if !ok {
		return
	}
	target, err := s.tracker.Landing(r.Context(), store)
	if err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.RedirectResponse{Redirect: target})
}

func (s *Server) handleTrail(w http.ResponseWriter, r *http.Request) {
	store, ok := s.openSession(w, r)
	if !ok {
		return
	}
	trail, err := s.tracker.Trail(r.Context(), store, navigation.TrailRequest{
		ItemID:         r.PathValue("id"),
		PageRoute:      r.URL.Query().Get("route"),
		AllFolders:     queryBool(r, "all_folders"),
		MenuOnLastItem: queryBool(r, "menu_last_item"),
		Minimal:        queryBool(r, "minimal"),
	})
	if err != nil {
		s.sendStoreError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, trail)
}

// decodeOptional decodes a JSON body into v. An empty body leaves v
// untouched.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
