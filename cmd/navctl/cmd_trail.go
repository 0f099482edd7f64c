package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mosacloud/drive/internal/logging"
	"github.com/mosacloud/drive/internal/navigation"
	"github.com/mosacloud/drive/internal/protocol"
	"github.com/mosacloud/drive/internal/session"
)

var trailFlags struct {
	server       string
	session      string
	token        string
	cookie       string
	route        string
	allFolders   bool
	menuLastItem bool
	raw          bool
}

// trailCmd asks a running service for a trail.
var trailCmd = &cobra.Command{
	Use:   "trail [item-id]",
	Short: "Fetch a breadcrumb trail from a running service",
	Long: `Fetch the breadcrumb trail of an item, as the explorer would, and print
one entry per line.

Examples:
  navctl trail 6f1c... --session 0b7e... --cookie "sessionid=..."
  navctl trail --route favorites`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTrail,
}

func init() {
	f := trailCmd.Flags()
	f.StringVar(&trailFlags.server, "server", "http://localhost:8080", "Navigation service URL")
	f.StringVar(&trailFlags.session, "session", "", "Navigation session id ("+session.HeaderName+")")
	f.StringVar(&trailFlags.token, "token", "", "Bearer token forwarded to the service")
	f.StringVar(&trailFlags.cookie, "cookie", "", "Cookie header forwarded to the service")
	f.StringVar(&trailFlags.route, "route", "", "Default route of the page")
	f.BoolVar(&trailFlags.allFolders, "all-folders", false, "Render in all-folders mode")
	f.BoolVar(&trailFlags.menuLastItem, "menu-last-item", false, "Attach the action menu to the last item")
	f.BoolVar(&trailFlags.raw, "json", false, "Print the raw JSON response")
}

func runTrail(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	path := "/api/v1/breadcrumbs"
	if len(args) == 1 {
		path += "/" + url.PathEscape(args[0])
	}
	q := url.Values{}
	if trailFlags.route != "" {
		q.Set("route", trailFlags.route)
	}
	if trailFlags.allFolders {
		q.Set("all_folders", "true")
	}
	if trailFlags.menuLastItem {
		q.Set("menu_last_item", "true")
	}
	target := strings.TrimRight(trailFlags.server, "/") + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if trailFlags.session != "" {
		req.Header.Set(session.HeaderName, trailFlags.session)
	}
	if trailFlags.token != "" {
		req.Header.Set("Authorization", "Bearer "+trailFlags.token)
	}
	if trailFlags.cookie != "" {
		req.Header.Set("Cookie", trailFlags.cookie)
	}

	logging.Debug("requesting trail", logging.String("url", target))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request trail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var er protocol.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&er)
		return fmt.Errorf("service returned %d: %s", resp.StatusCode, er.Error)
	}

	var trail navigation.Trail
	if err := json.NewDecoder(resp.Body).Decode(&trail); err != nil {
		return fmt.Errorf("decode trail: %w", err)
	}
	return printTrail(cmd, &trail)
}

func printTrail(cmd *cobra.Command, trail *navigation.Trail) error {
	out := cmd.OutOrStdout()
	if trailFlags.raw {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(trail)
	}
	for _, e := range trail.Entries {
		marker := " "
		if e.Active {
			marker = "*"
		}
		line := fmt.Sprintf("%s %-13s %s", marker, e.Kind, e.Title)
		if e.Source != "" {
			line += " (" + string(e.Source) + ")"
		}
		fmt.Fprintln(out, line)
	}
	if trail.Partial {
		fmt.Fprintln(out, "  (partial: some lookups failed)")
	}
	return nil
}
