package commands

import (
	"fmt"

	"github.com/renews-project/renews/internal/config"
	"github.com/renews-project/renews/internal/server"
	"github.com/renews-project/renews/internal/store"
	"github.com/spf13/cobra"
)

// adminCmd groups the one-shot administrative subcommands (spec §6 CLI).
// Every child opens storage directly against the resolved config's
// db_path, runs one action, and exits — there is no daemon involved.
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage groups, users, and roles without a running server",
}

func init() {
	rootCmd.AddCommand(adminCmd)
}

// openAdminStore resolves the configuration named by --config (or its
// RENEWS_CONFIG/default fallback) and opens its storage backend.
func openAdminStore() (store.Storage, error) {
	path := config.ResolveConfigPath(flagConfigPath)
	snap, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("renews: %w", err)
	}
	st, err := server.OpenStore(snap.DBPath)
	if err != nil {
		return nil, fmt.Errorf("renews: opening storage: %w", err)
	}
	return st, nil
}
