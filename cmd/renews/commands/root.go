// Package commands implements renews's command-line surface: a root
// command that serves NNTP by default, and an "admin" subtree of
// one-shot administrative actions, structured the way the teacher's
// cmd/usermgr groups its operations under one binary, generalized into
// cobra's command tree the way _examples/marmos91-dittofs/cmd/dfsctl
// lays its commands out (one var per cobra.Command, registered from
// init()).
package commands

import (
	"fmt"
	"os"

	"github.com/renews-project/renews/internal/config"
	"github.com/renews-project/renews/internal/logging"
	"github.com/renews-project/renews/internal/server"
	"github.com/spf13/cobra"
)

var (
	flagConfigPath           string
	flagInit                 bool
	flagAllowInsecurePosting bool
)

// rootCmd serves NNTP when invoked with no subcommand (spec §6 CLI).
var rootCmd = &cobra.Command{
	Use:           "renews",
	Short:         "renews is an NNTP/Usenet server",
	Long:          "renews serves NNTP over plain TCP, TLS, and an optional WebSocket bridge, reading its configuration from a TOML file.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

// Execute runs the command tree and returns any error for main to report.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to the TOML configuration file (default: $RENEWS_CONFIG or renews.toml)")
	rootCmd.Flags().BoolVar(&flagInit, "init", false, "write a default configuration file at --config and exit")
	rootCmd.Flags().BoolVar(&flagAllowInsecurePosting, "allow-posting-insecure-connections", false, "permit POST on non-TLS connections (development only)")

	logging.SetDefaultFilter(mustParseLogFilter())
}

// mustParseLogFilter builds the process-wide log filter from RENEWS_LOG,
// falling back to RUST_LOG for operators carrying over existing scripts
// (spec §6 Environment).
func mustParseLogFilter() *logging.Filter {
	spec := os.Getenv("RENEWS_LOG")
	if spec == "" {
		spec = os.Getenv("RUST_LOG")
	}
	f, err := logging.ParseFilter(spec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "renews: invalid log filter: %v\n", err)
		return nil
	}
	return f
}

func runServe(cmd *cobra.Command, args []string) error {
	path := config.ResolveConfigPath(flagConfigPath)

	if flagInit {
		return writeDefaultConfig(path)
	}

	mgr, err := config.NewManager(path)
	if err != nil {
		return fmt.Errorf("renews: %w", err)
	}
	if flagAllowInsecurePosting {
		mgr.SetAllowPostingInsecureConnections(true)
	}

	srv, err := server.New(mgr)
	if err != nil {
		return fmt.Errorf("renews: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("renews: %w", err)
	}

	waitForShutdownSignal()
	srv.Stop(shutdownDrainTimeout)
	return nil
}
