// Package menu composes the contextual menus shown next to items: the
// action menu of an item and the "create" menu of a folder.
package menu

// Item is one menu entry. Labels are translation keys; the client
// renders and localizes them.
type Item struct {
	ID        string `json:"id,omitempty"`
	Label     string `json:"label,omitempty"`
	Icon      string `json:"icon,omitempty"`
	Variant   string `json:"variant,omitempty"`
	Separator bool   `json:"separator,omitempty"`
	Hidden    bool   `json:"hidden,omitempty"`

	// ItemID is the item the action applies to.
	ItemID string `json:"item_id,omitempty"`
	// Mimetype is set on create entries for files.
	Mimetype string `json:"mimetype,omitempty"`
}

// Separator returns a separator entry.
func Separator() Item {
	return Item{Separator: true}
}

// Visible drops hidden entries, then separators that would lead, trail
// or follow another separator.
func Visible(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Hidden {
			continue
		}
		if it.Separator && (len(out) == 0 || out[len(out)-1].Separator) {
			continue
		}
		out = append(out, it)
	}
	for len(out) > 0 && out[len(out)-1].Separator {
		out = out[:len(out)-1]
	}
	return out
}
