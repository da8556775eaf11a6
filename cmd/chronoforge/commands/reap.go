package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/radioactive-labs/chrono-forge/internal/store"
)

var reapMaxDuration time.Duration

// reapCmd is the one-shot counterpart to the cron-scheduled reaper serve
// runs in-process: useful for an operator checking lease health without
// standing up a full worker, or for wiring into an external cron instead.
var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "List workflows whose lease has outlived max_duration",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		db, err := store.Open(databaseURL())
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer db.Close()

		sqlStore := store.New(db)
		stale, err := sqlStore.ListStale(ctx, time.Now().UTC().Add(-reapMaxDuration))
		if err != nil {
			return fmt.Errorf("listing stale workflows: %w", err)
		}

		if len(stale) == 0 {
			fmt.Println("no stale workflows")
			return nil
		}
		for _, w := range stale {
			fmt.Printf("%s/%s\tlocked_by=%v\tlocked_at=%v\n", w.JobClass, w.Key, derefStr(w.LockedBy), derefStr(w.LockedAt))
		}
		return nil
	},
}

func init() {
	reapCmd.Flags().DurationVar(&reapMaxDuration, "max-duration", 10*time.Minute, "lease age beyond which a running workflow is considered stale")
}

func derefStr[T any](p *T) any {
	if p == nil {
		return "<nil>"
	}
	return *p
}
