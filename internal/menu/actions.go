package menu

import "github.com/mosacloud/drive/internal/drive"

// Action ids.
const (
	ActionViewInfo   = "view_info"
	ActionShare      = "share"
	ActionMove       = "move"
	ActionDownload   = "download"
	ActionRename     = "rename"
	ActionFavorite   = "favorite"
	ActionUnfavorite = "unfavorite"
	ActionDelete     = "delete"
)

// ActionOptions tunes ItemActions.
type ActionOptions struct {
	// Minimal keeps only actions that make sense in compact views.
	Minimal bool
	// ItemID overrides the item the actions target.
	ItemID string
}

// ItemActions returns the action menu of item, hidden entries included.
func ItemActions(item *drive.Item, opts ActionOptions) []Item {
	target := opts.ItemID
	if target == "" {
		target = item.EffectiveID()
	}
	ab := item.Abilities

	favorite := Item{
		ID:     ActionFavorite,
		Label:  "explorer.item.actions.favorite",
		Icon:   "starred",
		Hidden: !ab.Retrieve,
		ItemID: target,
	}
	if item.IsFavorite {
		favorite.ID = ActionUnfavorite
		favorite.Label = "explorer.item.actions.unfavorite"
		favorite.Icon = "starred-slash"
	}

	return []Item{
		{ID: ActionViewInfo, Label: "explorer.item.actions.view_info", Icon: "info", Hidden: opts.Minimal, ItemID: item.ID},
		{ID: ActionShare, Label: "explorer.item.actions.share", Icon: "group", Hidden: !ab.AccessesView, ItemID: target},
		{ID: ActionMove, Label: "explorer.item.actions.move", Icon: "arrow_forward", Hidden: !ab.Move || opts.Minimal, ItemID: target},
		{ID: ActionDownload, Label: "explorer.item.actions.download", Icon: "download", Hidden: item.IsFolder() || opts.Minimal, ItemID: item.ID},
		Separator(),
		{ID: ActionRename, Label: "explorer.item.actions.rename", Icon: "settings", Hidden: !ab.Update, ItemID: target},
		Separator(),
		favorite,
		{
			ID:      ActionDelete,
			Label:   "explorer.item.actions.delete",
			Icon:    "delete",
			Variant: "danger",
			Hidden:  !ab.Destroy || item.MainWorkspace || opts.Minimal,
			ItemID:  target,
		},
	}
}
