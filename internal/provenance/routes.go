// Package provenance decides which top-level entry point a breadcrumb
// trail starts from. Everything here is pure: no storage, no network.
package provenance

import "strings"

// DefaultRoute identifies one of the fixed top-level explorer pages.
type DefaultRoute string

const (
	MyFiles      DefaultRoute = "my_files"
	Favorites    DefaultRoute = "favorites"
	SharedWithMe DefaultRoute = "shared_with_me"
	Recent       DefaultRoute = "recent"
)

// RouteData describes how a default route is rendered.
type RouteData struct {
	ID    DefaultRoute `json:"id"`
	Label string       `json:"label"`
	Icon  string       `json:"icon"`
	Path  string       `json:"path"`
}

// OrderedDefaultRoutes lists the default routes in display order.
var OrderedDefaultRoutes = []RouteData{
	{ID: MyFiles, Label: "My files", Icon: "folder", Path: "/explorer/items/my-files"},
	{ID: Favorites, Label: "Starred", Icon: "star", Path: "/explorer/items/favorites"},
	{ID: SharedWithMe, Label: "Shared with me", Icon: "group", Path: "/explorer/items/shared-with-me"},
	{ID: Recent, Label: "Recent", Icon: "schedule", Path: "/explorer/items/recent"},
}

// Landing is where users end up when nothing better is known.
const Landing = "/explorer/items/my-files"

// ItemPath returns the explorer path of an item.
func ItemPath(id string) string {
	return "/explorer/items/" + id
}

// Lookup returns the route data for id.
func Lookup(id DefaultRoute) (RouteData, bool) {
	for _, r := range OrderedDefaultRoutes {
		if r.ID == id {
			return r, true
		}
	}
	return RouteData{}, false
}

// MustLookup is Lookup for ids known at compile time.
func MustLookup(id DefaultRoute) RouteData {
	r, ok := Lookup(id)
	if !ok {
		panic("provenance: unknown default route " + string(id))
	}
	return r
}

// Valid reports whether r is a known default route.
func (r DefaultRoute) Valid() bool {
	_, ok := Lookup(r)
	return ok
}

// RouteForPath returns the default route whose page is at path.
// Trailing slashes and query strings are ignored.
func RouteForPath(path string) (RouteData, bool) {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	for _, r := range OrderedDefaultRoutes {
		if r.Path == path {
			return r, true
		}
	}
	return RouteData{}, false
}

// ParseRoute accepts either a route id ("favorites") or a page path
// ("/explorer/items/favorites").
func ParseRoute(s string) (RouteData, bool) {
	if r, ok := Lookup(DefaultRoute(s)); ok {
		return r, true
	}
	return RouteForPath(s)
}
