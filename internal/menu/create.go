package menu

import "github.com/mosacloud/drive/internal/drive"

// Create action ids.
const (
	CreateFolder       = "create_folder"
	ImportFiles        = "import_files"
	ImportFolders      = "import_folders"
	CreateDoc          = "create_doc"
	CreatePresentation = "create_powerpoint"
	CreateSpreadsheet  = "create_calc"
)

// CreateOptions tunes CreateActions.
type CreateOptions struct {
	IncludeImport bool
}

// CanCreateChildren reports whether new items may be created in parent.
// A nil parent is a top-level view, where creation is always offered.
func CanCreateChildren(parent *drive.Item) bool {
	if parent == nil {
		return true
	}
	return parent.Abilities.ChildrenCreate
}

// CreateActions returns the create menu for parent, hidden entries
// included. Every entry is hidden when parent refuses children.
func CreateActions(parent *drive.Item, opts CreateOptions) []Item {
	hidden := !CanCreateChildren(parent)
	var parentID string
	if parent != nil {
		parentID = parent.ID
	}

	items := []Item{
		{ID: CreateFolder, Label: "explorer.tree.create.folder", Icon: "create_folder", Hidden: hidden, ItemID: parentID},
		Separator(),
	}
	if opts.IncludeImport {
		items = append(items,
			Item{ID: ImportFiles, Label: "explorer.tree.import.files", Icon: "upload_file", Hidden: hidden, ItemID: parentID},
			Item{ID: ImportFolders, Label: "explorer.tree.import.folders", Icon: "upload_folder", Hidden: hidden, ItemID: parentID},
			Separator(),
		)
	}
	return append(items,
		Item{
			ID:       CreateDoc,
			Label:    "explorer.tree.create.file.doc",
			Icon:     "doc.odt",
			Hidden:   hidden,
			ItemID:   parentID,
			Mimetype: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		},
		Item{
			ID:       CreatePresentation,
			Label:    "explorer.tree.create.file.powerpoint",
			Icon:     "powerpoint.odp",
			Hidden:   hidden,
			ItemID:   parentID,
			Mimetype: "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		},
		Item{
			ID:       CreateSpreadsheet,
			Label:    "explorer.tree.create.file.calc",
			Icon:     "calc.ods",
			Hidden:   hidden,
			ItemID:   parentID,
			Mimetype: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		},
	)
}
