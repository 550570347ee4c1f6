package commands

import (
	"fmt"
	"syscall"
	"time"

	"github.com/renews-project/renews/internal/authn"
	"github.com/renews-project/renews/internal/model"
	"github.com/renews-project/renews/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var addUserCmd = &cobra.Command{
	Use:   "add-user name [password]",
	Short: "Create a local account",
	Long:  "Create a local account. If password is omitted, it is read interactively (with confirmation) without echoing to the terminal.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]
		password := ""
		if len(args) == 2 {
			password = args[1]
		} else {
			p, err := promptNewPassword()
			if err != nil {
				return err
			}
			password = p
		}

		hash, err := authn.HashPassword(password)
		if err != nil {
			return fmt.Errorf("renews: %w", err)
		}

		st, err := openAdminStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if existing, _ := st.UserByUsername(username); existing != nil {
			return fmt.Errorf("renews: user %q already exists", username)
		}
		if err := st.PutUser(&model.User{Username: username, PasswordHash: hash}); err != nil {
			return fmt.Errorf("renews: %w", err)
		}
		fmt.Printf("created user %s\n", username)
		return nil
	},
}

func promptNewPassword() (string, error) {
	fmt.Print("Password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("renews: reading password: %w", err)
	}
	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("renews: reading password: %w", err)
	}
	if string(pw) != string(confirm) {
		return "", fmt.Errorf("renews: passwords do not match")
	}
	if len(pw) == 0 {
		return "", fmt.Errorf("renews: password must not be empty")
	}
	return string(pw), nil
}

var removeUserCmd = &cobra.Command{
	Use:   "remove-user name",
	Short: "Delete a local account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openAdminStore()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.DeleteUser(args[0]); err != nil {
			return fmt.Errorf("renews: %w", err)
		}
		fmt.Printf("removed user %s\n", args[0])
		return nil
	},
}

func mutateUser(username string, mutate func(u *model.User)) error {
	st, err := openAdminStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return mutateUserWith(st, username, mutate)
}

func mutateUserWith(st store.Storage, username string, mutate func(u *model.User)) error {
	u, err := st.UserByUsername(username)
	if err != nil {
		return fmt.Errorf("renews: %w", err)
	}
	mutate(u)
	if err := st.PutUser(u); err != nil {
		return fmt.Errorf("renews: %w", err)
	}
	return nil
}

var addAdminCmd = &cobra.Command{
	Use:   "add-admin name",
	Short: "Grant the admin role to a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := mutateUser(args[0], func(u *model.User) { u.IsAdmin = true }); err != nil {
			return err
		}
		fmt.Printf("granted admin to %s\n", args[0])
		return nil
	},
}

var removeAdminCmd = &cobra.Command{
	Use:   "remove-admin name",
	Short: "Revoke the admin role from a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := mutateUser(args[0], func(u *model.User) { u.IsAdmin = false }); err != nil {
			return err
		}
		fmt.Printf("revoked admin from %s\n", args[0])
		return nil
	},
}

var addModeratorCmd = &cobra.Command{
	Use:   "add-moderator name pattern",
	Short: "Grant moderator authority over groups matching pattern",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := args[1]
		if err := mutateUser(args[0], func(u *model.User) {
			for _, p := range u.ModeratorPatterns {
				if p == pattern {
					return
				}
			}
			u.ModeratorPatterns = append(u.ModeratorPatterns, pattern)
		}); err != nil {
			return err
		}
		fmt.Printf("granted moderator of %q to %s\n", pattern, args[0])
		return nil
	},
}

var removeModeratorCmd = &cobra.Command{
	Use:   "remove-moderator name pattern",
	Short: "Revoke moderator authority over groups matching pattern",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := args[1]
		if err := mutateUser(args[0], func(u *model.User) {
			kept := u.ModeratorPatterns[:0]
			for _, p := range u.ModeratorPatterns {
				if p != pattern {
					kept = append(kept, p)
				}
			}
			u.ModeratorPatterns = kept
		}); err != nil {
			return err
		}
		fmt.Printf("revoked moderator of %q from %s\n", pattern, args[0])
		return nil
	},
}

var (
	limitMaxConns      int
	limitUploadBytes   int64
	limitDownloadBytes int64
	limitWindowSeconds int
)

var setUserLimitsCmd = &cobra.Command{
	Use:   "set-user-limits name",
	Short: "Set a user's per-connection and per-window usage limits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := mutateUser(args[0], func(u *model.User) {
			if cmd.Flags().Changed("max-conns") {
				u.MaxConns = limitMaxConns
			}
			if cmd.Flags().Changed("upload-bytes") {
				u.UploadBytes = limitUploadBytes
			}
			if cmd.Flags().Changed("download-bytes") {
				u.DownloadBytes = limitDownloadBytes
			}
			if cmd.Flags().Changed("window-secs") {
				u.WindowDuration = time.Duration(limitWindowSeconds) * time.Second
			}
		})
		if err != nil {
			return err
		}
		fmt.Printf("updated limits for %s\n", args[0])
		return nil
	},
}

func init() {
	setUserLimitsCmd.Flags().IntVar(&limitMaxConns, "max-conns", 0, "maximum concurrent connections (0 = unlimited)")
	setUserLimitsCmd.Flags().Int64Var(&limitUploadBytes, "upload-bytes", 0, "upload quota per window, in bytes (0 = unlimited)")
	setUserLimitsCmd.Flags().Int64Var(&limitDownloadBytes, "download-bytes", 0, "download quota per window, in bytes (0 = unlimited)")
	setUserLimitsCmd.Flags().IntVar(&limitWindowSeconds, "window-secs", 0, "quota window length in seconds")

	adminCmd.AddCommand(addUserCmd)
	adminCmd.AddCommand(removeUserCmd)
	adminCmd.AddCommand(addAdminCmd)
	adminCmd.AddCommand(removeAdminCmd)
	adminCmd.AddCommand(addModeratorCmd)
	adminCmd.AddCommand(removeModeratorCmd)
	adminCmd.AddCommand(setUserLimitsCmd)
}
