// Package protocol defines the JSON bodies of the navigation API.
package protocol

import (
	"github.com/mosacloud/drive/internal/menu"
	"github.com/mosacloud/drive/internal/provenance"
)

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"session_backend"`
	Drive   string `json:"drive,omitempty"`
}

// MenuResponse is a composed menu.
type MenuResponse struct {
	ItemID string      `json:"item_id,omitempty"`
	Items  []menu.Item `json:"items"`
}

// RoutesResponse lists the default routes.
type RoutesResponse struct {
	Routes []provenance.RouteData `json:"routes"`
}

// DeletedRequest is the optional body of the item-deleted trigger.
type DeletedRequest struct {
	Path string `json:"path,omitempty"`
}

// AttemptedURLRequest remembers a page for after login.
type AttemptedURLRequest struct {
	URL string `json:"url"`
}

// RedirectResponse tells the client where to go.
type RedirectResponse struct {
	Redirect string `json:"redirect"`
}
