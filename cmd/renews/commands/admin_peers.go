package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/renews-project/renews/internal/config"
	"github.com/spf13/cobra"
)

// listPeersCmd supplements the spec's admin subcommand list with a
// read-only view of the configured [[peer]] blocks, the way list-groups
// supplements add-group/remove-group.
var listPeersCmd = &cobra.Command{
	Use:   "list-peers",
	Short: "List configured peer feeds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ResolveConfigPath(flagConfigPath)
		snap, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("renews: %w", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SITENAME\tPATTERNS\tSCHEDULE\tSTREAMING\tTLS")
		for _, p := range snap.Peers {
			fmt.Fprintf(w, "%s\t%v\t%s\t%v\t%v\n", p.SiteName, p.Patterns, p.SyncSchedule, p.Streaming, p.UseTLS)
		}
		return w.Flush()
	},
}

func init() {
	adminCmd.AddCommand(listPeersCmd)
}
