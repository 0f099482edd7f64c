// Command navctl is the operator tool of the navigation service.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mosacloud/drive/internal/logging"
)

var (
	verbose bool
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "navctl",
	Short: "Inspect and maintain the drive navigation service",
	Long: `navctl works with the navigation service that resolves breadcrumb
trails for the drive explorer.

Available subcommands:
  decide - Show which breadcrumb lead a navigation context produces
  purge  - Remove idle navigation sessions from a SQL session store
  trail  - Fetch a breadcrumb trail from a running service
  token  - Sign a service token for the navigation API`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "info"
		if verbose {
			level = "debug"
		}
		return logging.Init(logging.Config{Level: level, Format: "console", OutputPath: "stderr"})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Operation timeout")

	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(trailCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
