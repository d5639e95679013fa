package cmd

import (
	"errors"
	"fmt"
	"github.com/nsgbyvt82s-svg/trading-formation-clean/gatekeeper"
	"github.com/spf13/cobra"
	"time"
)

var (
	issueDiscordID string
	issueName      string
	issueRole      string
)

// issueCmd provisions a credential without discord, for operators
// bootstrapping accounts from a shell
var issueCmd = &cobra.Command{
	Use:   "issue --discord-id ID --name NAME [--role ROLE]",
	Short: "Generate a credential and register it with the account store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if issueDiscordID == "" {
			return errors.New("--discord-id is required")
		}
		role, err := gatekeeper.ParseRole(issueRole)
		if err != nil {
			return err
		}

		gk, err := gatekeeper.New(cfg)
		if err != nil {
			return fmt.Errorf("error creating gatekeeper: %w", err)
		}

		cred, _, err := gk.IssueCredential(cmd.Context(), issueDiscordID, issueName, role)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "username:   %s\n", cred.Username)
		fmt.Fprintf(out, "email:      %s\n", cred.Email)
		fmt.Fprintf(out, "password:   %s\n", cred.Password)
		fmt.Fprintf(out, "role:       %s\n", cred.Role)
		fmt.Fprintf(out, "expires_at: %s\n", cred.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(issueCmd)
	issueCmd.Flags().StringVar(&issueDiscordID, "discord-id", "", "Discord user ID the credential is issued to")
	issueCmd.Flags().StringVar(&issueName, "name", "", "Display name the username is derived from")
	issueCmd.Flags().StringVar(&issueRole, "role", string(gatekeeper.RoleMember), "Account role")
}
