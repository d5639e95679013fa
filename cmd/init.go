package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"github.com/nsgbyvt82s-svg/trading-formation-clean/gatekeeper"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"log"
	"strings"
	"syscall"
)

// passwordReader is a function type for reading passwords. It's really only
// here to make testing easier.
type passwordReader func() ([]byte, error)

var (
	customPasswordReader passwordReader
	skipOwner            bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and create the first owner account",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("Environment variable GK_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable GK_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}
		db, err := gatekeeper.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		out := cmd.OutOrStdout()
		if skipOwner {
			fmt.Fprintln(out, "Initialization complete.")
			return
		}

		var owners int64
		if err = db.Model(&gatekeeper.Account{}).
			Where("role = ?", gatekeeper.RoleOwner).
			Count(&owners).Error; err != nil {
			log.Fatalf("Error checking for owner accounts: %v", err)
		}

		if owners > 0 {
			fmt.Fprintln(out, "An owner account already exists.")
		} else {
			fmt.Fprintln(out, "No owner account exists. Let's create one.")

			reader := bufio.NewReader(cmd.InOrStdin())

			fmt.Fprint(out, "Enter owner username: ")
			username, _ := reader.ReadString('\n')
			username = strings.TrimSpace(username)

			fmt.Fprint(out, "Enter owner email (blank to derive one): ")
			email, _ := reader.ReadString('\n')
			email = strings.TrimSpace(email)

			if customPasswordReader == nil {
				customPasswordReader = func() ([]byte, error) {
					return term.ReadPassword(int(syscall.Stdin))
				}
			}

			var password string
			for {
				fmt.Fprint(out, "Enter owner password: ")
				passwordBytes, _ := customPasswordReader()
				password = string(passwordBytes)
				fmt.Fprintln(out)

				fmt.Fprint(out, "Confirm owner password: ")
				confirmPasswordBytes, _ := customPasswordReader()
				fmt.Fprintln(out)

				if password == string(confirmPasswordBytes) && password != "" {
					break
				}
				fmt.Fprintln(out, "Passwords are empty or do not match. Please try again.")
			}

			account, err := gatekeeper.CreateAccount(
				ctx,
				db,
				gatekeeper.NewAccount{
					Username: username,
					Email:    email,
					Password: password,
					Role:     gatekeeper.RoleOwner,
					Provider: "cli",
				},
			)
			if err != nil {
				var dupErr *gatekeeper.DuplicateError
				if errors.As(err, &dupErr) {
					log.Fatalf("An account with that %s already exists", dupErr.Field)
				}
				log.Fatalf("Error creating owner account: %v", err)
			}
			fmt.Fprintf(out, "Owner account %q created.\n", account.Username)
		}

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the server with the 'run' subcommand.",
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&skipOwner, "skip-owner", false, "Only run migrations")
}
