package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/radioactive-labs/chrono-forge/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(databaseURL())
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer db.Close()

		fmt.Println("migrations applied")
		return nil
	},
}
