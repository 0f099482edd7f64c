package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mosacloud/drive/internal/provenance"
)

var decideFlags struct {
	route   string
	manual  string
	item    string
	creator string
	user    string
	unknown bool
}

// decideCmd runs the provenance decision offline.
var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Show which breadcrumb lead a navigation context produces",
	Long: `Run the provenance decision for a stored navigation context and an item,
without contacting the drive API.

Examples:
  navctl decide --route recent --manual f1 --item f1
  navctl decide --item f1 --creator u1 --user u1
  navctl decide --manual f1 --item f2 --creator u2 --user u1`,
	RunE: runDecide,
}

func init() {
	f := decideCmd.Flags()
	f.StringVar(&decideFlags.route, "route", "", "Stored default route (my_files, favorites, shared_with_me, recent)")
	f.StringVar(&decideFlags.manual, "manual", "", "Stored manual navigation item id")
	f.StringVar(&decideFlags.item, "item", "", "Current item id (required)")
	f.StringVar(&decideFlags.creator, "creator", "", "Creator id of the current item")
	f.StringVar(&decideFlags.user, "user", "", "Current user id")
	f.BoolVar(&decideFlags.unknown, "unknown", false, "Treat the item record as not loaded yet")
	decideCmd.MarkFlagRequired("item")
}

func runDecide(cmd *cobra.Command, args []string) error {
	route := provenance.DefaultRoute(decideFlags.route)
	if route != "" && !route.Valid() {
		return fmt.Errorf("unknown route %q", decideFlags.route)
	}
	marks := provenance.Marks{DefaultRoute: route, ManualItemID: decideFlags.manual}
	d := provenance.Decide(provenance.Input{
		Marks:     marks,
		ItemKnown: !decideFlags.unknown,
		ItemID:    decideFlags.item,
		CreatorID: decideFlags.creator,
		UserID:    decideFlags.user,
	})

	out := struct {
		Route       provenance.DefaultRoute `json:"route,omitempty"`
		Label       string                  `json:"label,omitempty"`
		Source      provenance.Source       `json:"source,omitempty"`
		Invalidate  bool                    `json:"invalidate"`
		MarksBefore provenance.Marks        `json:"marks_before"`
		MarksAfter  provenance.Marks        `json:"marks_after"`
	}{
		Source:      d.Source,
		Invalidate:  d.Invalidate,
		MarksBefore: marks,
		MarksAfter:  d.Apply(marks),
	}
	if d.Route != nil {
		out.Route = d.Route.ID
		out.Label = d.Route.Label
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
