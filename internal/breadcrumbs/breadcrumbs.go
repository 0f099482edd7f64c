// Package breadcrumbs assembles the breadcrumb trail of an explorer page.
// Assembly is pure; fetching the item and its ancestors is done by the
// caller.
package breadcrumbs

import (
	"github.com/mosacloud/drive/internal/drive"
	"github.com/mosacloud/drive/internal/menu"
	"github.com/mosacloud/drive/internal/provenance"
)

// Kind is the kind of a trail entry.
type Kind string

const (
	KindDefaultRoute Kind = "default_route"
	KindAllFolders   Kind = "all_folders"
	KindItem         Kind = "item"
	KindLastItem     Kind = "last_item"
)

// Indicator is the sharing hint shown next to the last item.
type Indicator string

const (
	IndicatorNone   Indicator = ""
	IndicatorPublic Indicator = "public"
	IndicatorPeople Indicator = "people"
)

// ActionGoToSpaces is the callback an all-folders entry triggers.
const ActionGoToSpaces = "go_to_spaces"

// AllFoldersLabel is the translation key of the all-folders entry.
const AllFoldersLabel = "explorer.breadcrumbs.all_folders"

// Entry is one rendered element of a trail.
type Entry struct {
	Kind  Kind   `json:"kind"`
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
	Icon  string `json:"icon,omitempty"`

	// Href is where activating the entry navigates. Entries with an
	// Action invoke a client callback instead.
	Href   string `json:"href,omitempty"`
	Action string `json:"action,omitempty"`

	Route  provenance.DefaultRoute `json:"route,omitempty"`
	Source provenance.Source       `json:"source,omitempty"`

	Active    bool        `json:"active,omitempty"`
	Indicator Indicator   `json:"indicator,omitempty"`
	Actions   []menu.Item `json:"actions,omitempty"`
}

// Input holds everything a trail is built from.
type Input struct {
	// PageRoute is set when the page itself is a default route page.
	PageRoute *provenance.RouteData
	// Lead is the resolved provenance of the current item.
	Lead provenance.Decision

	AllFolders     bool
	MenuOnLastItem bool

	CurrentItemID string
	// Item is nil until the current item is known.
	Item *drive.Item
	// Ancestors run root to leaf; nil until known.
	Ancestors []drive.Breadcrumb

	// LastItemActions is the action menu attached to the last item entry.
	LastItemActions []menu.Item
}

// Assemble builds the trail.
func Assemble(in Input) []Entry {
	var trail []Entry

	if in.PageRoute != nil && !in.AllFolders {
		trail = append(trail, routeEntry(*in.PageRoute, provenance.SourceNone))
	}

	if in.AllFolders {
		trail = append(trail, Entry{
			Kind:   KindAllFolders,
			Title:  AllFoldersLabel,
			Action: ActionGoToSpaces,
		})
	} else if in.Lead.Route != nil {
		trail = append(trail, routeEntry(*in.Lead.Route, in.Lead.Source))
	}

	ancestors := in.Ancestors
	if in.MenuOnLastItem && len(ancestors) > 0 {
		ancestors = ancestors[:len(ancestors)-1]
	}
	for _, a := range ancestors {
		trail = append(trail, Entry{
			Kind:   KindItem,
			ID:     a.ID,
			Title:  a.Title,
			Href:   provenance.ItemPath(a.ID),
			Active: in.CurrentItemID != "" && a.ID == in.CurrentItemID,
		})
	}

	if in.MenuOnLastItem && in.Item != nil {
		trail = append(trail, Entry{
			Kind:      KindLastItem,
			ID:        in.Item.ID,
			Title:     in.Item.Title,
			Href:      provenance.ItemPath(in.Item.ID),
			Active:    true,
			Indicator: SharingIndicator(in.Item),
			Actions:   in.LastItemActions,
		})
	}

	return trail
}

func routeEntry(r provenance.RouteData, source provenance.Source) Entry {
	return Entry{
		Kind:   KindDefaultRoute,
		Title:  r.Label,
		Icon:   r.Icon,
		Href:   r.Path,
		Route:  r.ID,
		Source: source,
	}
}

// SharingIndicator tells how widely item is shared.
func SharingIndicator(item *drive.Item) Indicator {
	if item.ComputedLinkReach == drive.LinkReachPublic {
		return IndicatorPublic
	}
	if item.NbAccesses > 1 {
		return IndicatorPeople
	}
	return IndicatorNone
}

// Titles returns the titles of a trail, handy for logs and tests.
func Titles(trail []Entry) []string {
	out := make([]string, len(trail))
	for i, e := range trail {
		out[i] = e.Title
	}
	return out
}
