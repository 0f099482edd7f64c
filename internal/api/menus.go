package api

import (
	"net/http"

	"github.com/mosacloud/drive/internal/drive"
	"github.com/mosacloud/drive/internal/menu"
	"github.com/mosacloud/drive/internal/protocol"
)

func (s *Server) handleItemActions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	item, err := s.lookup.Item(r.Context(), id)
	if err != nil {
		s.sendLookupError(w, r, err)
		return
	}
	items := menu.ItemActions(item, menu.ActionOptions{Minimal: queryBool(r, "minimal")})
	s.sendJSON(w, http.StatusOK, protocol.MenuResponse{ItemID: id, Items: menu.Visible(items)})
}

// handleCreateMenu serves both the top-level create menu and the one of
// a folder.
func (s *Server) handleCreateMenu(w http.ResponseWriter, r *http.Request) {
	var parent *drive.Item
	if id := r.PathValue("id"); id != "" {
		item, err := s.lookup.Item(r.Context(), id)
		if err != nil {
			s.sendLookupError(w, r, err)
			return
		}
		parent = item
	}
	items := menu.CreateActions(parent, menu.CreateOptions{IncludeImport: queryBool(r, "include_import")})
	resp := protocol.MenuResponse{Items: menu.Visible(items)}
	if parent != nil {
		resp.ItemID = parent.ID
	}
	s.sendJSON(w, http.StatusOK, resp)
}
