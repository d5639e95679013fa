package cmd

import (
	"github.com/nsgbyvt82s-svg/trading-formation-clean/gatekeeper"
	"github.com/spf13/cobra"
	"log"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the discord bot and the account store",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			gk, err := gatekeeper.New(cfg)
			if err != nil {
				log.Fatalf("error creating gatekeeper: %s", err.Error())
			}

			if err = gk.Run(ctx); err != nil {
				log.Fatalf("error running gatekeeper: %s", err.Error())
			}
		},
	}
)

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
