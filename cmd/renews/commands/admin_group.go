package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/renews-project/renews/internal/model"
	"github.com/spf13/cobra"
)

var (
	addGroupModerated   bool
	addGroupDescription string
)

var addGroupCmd = &cobra.Command{
	Use:   "add-group name",
	Short: "Create a newsgroup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openAdminStore()
		if err != nil {
			return err
		}
		defer st.Close()

		g := &model.Group{
			Name:        args[0],
			Created:     time.Now().UTC(),
			Moderated:   addGroupModerated,
			Description: addGroupDescription,
		}
		if err := st.CreateGroup(g); err != nil {
			return fmt.Errorf("renews: %w", err)
		}
		fmt.Printf("created group %s\n", g.Name)
		return nil
	},
}

var removeGroupCmd = &cobra.Command{
	Use:   "remove-group name",
	Short: "Delete a newsgroup and every article stored under it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openAdminStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteGroup(args[0]); err != nil {
			return fmt.Errorf("renews: %w", err)
		}
		fmt.Printf("removed group %s\n", args[0])
		return nil
	},
}

// listGroupsCmd is not named in spec §6's CLI line; it supplements the
// write-only add/remove pair with a read path for operators inspecting
// a store from the shell.
var listGroupsCmd = &cobra.Command{
	Use:   "list-groups",
	Short: "List every newsgroup known to the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openAdminStore()
		if err != nil {
			return err
		}
		defer st.Close()

		groups, err := st.ListGroups(nil)
		if err != nil {
			return fmt.Errorf("renews: %w", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMODERATED\tRETENTION DAYS\tCREATED")
		for _, g := range groups {
			fmt.Fprintf(w, "%s\t%v\t%d\t%s\n", g.Name, g.Moderated, g.RetentionDays, g.Created.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	addGroupCmd.Flags().BoolVar(&addGroupModerated, "moderated", false, "require moderator approval for posts to this group")
	addGroupCmd.Flags().StringVar(&addGroupDescription, "description", "", "human-readable group description")

	adminCmd.AddCommand(addGroupCmd)
	adminCmd.AddCommand(removeGroupCmd)
	adminCmd.AddCommand(listGroupsCmd)
}
