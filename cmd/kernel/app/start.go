package app

import (
	"github.com/spf13/cobra"

	"github.com/gvanjoic/neo4j/src/app"
)

func initStart() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Recovers the transaction log and opens the store for transactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), &app.StoreEntrypoint{
				ConfigPath: rootCmd.Options.ConfigPath,
			})
		},
	})
}
