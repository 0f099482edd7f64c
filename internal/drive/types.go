// Package drive talks to the drive backend API for the few records the
// navigation service needs: items, their ancestor chains and the
// current user.
package drive

import "strings"

// ItemType distinguishes files from folders.
type ItemType string

const (
	TypeFile   ItemType = "file"
	TypeFolder ItemType = "folder"
)

// LinkReach is how far a link to the item is shared.
type LinkReach string

const (
	LinkReachRestricted    LinkReach = "restricted"
	LinkReachAuthenticated LinkReach = "authenticated"
	LinkReachPublic        LinkReach = "public"
)

// Abilities are the current user's permissions on an item.
type Abilities struct {
	AccessesView   bool `json:"accesses_view"`
	ChildrenCreate bool `json:"children_create"`
	Destroy        bool `json:"destroy"`
	Move           bool `json:"move"`
	Retrieve       bool `json:"retrieve"`
	Update         bool `json:"update"`
}

// Creator is the reduced user record embedded in items.
type Creator struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name,omitempty"`
	ShortName string `json:"short_name,omitempty"`
}

// Item is a file or folder.
type Item struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Type              ItemType  `json:"type"`
	Path              string    `json:"path"`
	Creator           Creator   `json:"creator"`
	Abilities         Abilities `json:"abilities"`
	IsFavorite        bool      `json:"is_favorite"`
	LinkReach         LinkReach `json:"link_reach,omitempty"`
	ComputedLinkReach LinkReach `json:"computed_link_reach,omitempty"`
	NbAccesses        int       `json:"nb_accesses"`
	MainWorkspace     bool      `json:"main_workspace"`
	Filename          string    `json:"filename,omitempty"`
	Mimetype          string    `json:"mimetype,omitempty"`

	// OriginalID is set on items listed through a favorite or a share
	// alias and names the underlying item.
	OriginalID string `json:"originalId,omitempty"`
}

// IsFolder reports whether the item is a folder.
func (i *Item) IsFolder() bool {
	return i.Type == TypeFolder
}

// EffectiveID returns OriginalID when set, otherwise ID.
func (i *Item) EffectiveID() string {
	if i.OriginalID != "" {
		return i.OriginalID
	}
	return i.ID
}

// ParentID returns the id of the item's parent, or "" for root items.
func (i *Item) ParentID() string {
	return ParentIDFromPath(i.Path)
}

// ParentIDFromPath extracts the parent id from a dotted ancestor path
// such as "root.child.leaf".
func ParentIDFromPath(path string) string {
	if path == "" {
		return ""
	}
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

// Breadcrumb is one ancestor of an item.
type Breadcrumb struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Path          string `json:"path,omitempty"`
	Depth         int    `json:"depth,omitempty"`
	MainWorkspace bool   `json:"main_workspace,omitempty"`
}

// User is the authenticated principal as seen by the drive backend.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	ShortName string `json:"short_name,omitempty"`
}
