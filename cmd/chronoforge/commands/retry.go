package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/radioactive-labs/chrono-forge/internal/queue"
	"github.com/radioactive-labs/chrono-forge/internal/store"
	"github.com/radioactive-labs/chrono-forge/pkg/chronoforge"
)

var retryDelay time.Duration

var retryCmd = &cobra.Command{
	Use:   "retry <job-class> <key>",
	Short: "Re-enqueue a stalled or failed workflow",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobClass, key := args[0], args[1]

		ctx := cmd.Context()

		db, err := store.Open(databaseURL())
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer db.Close()

		q, err := queue.New(ctx, queue.Options{
			Embedded: natsURL() == "",
			URL:      natsURL(),
			StoreDir: natsStoreDir(),
		})
		if err != nil {
			return fmt.Errorf("starting queue: %w", err)
		}
		defer q.Close()

		sqlStore := store.New(db)
		w, err := sqlStore.FindOrCreateWorkflow(ctx, jobClass, key, chronoforge.WorkflowInit{})
		if err != nil {
			return fmt.Errorf("looking up workflow: %w", err)
		}
		if !w.State.Retryable() {
			return &chronoforge.WorkflowNotRetryableError{WorkflowKey: key, State: w.State}
		}

		engine := chronoforge.NewEngine(sqlStore, q)
		if retryDelay > 0 {
			if err := engine.RetryLater(ctx, jobClass, key, retryDelay); err != nil {
				return err
			}
			fmt.Printf("retry of %s/%s scheduled in %s\n", jobClass, key, retryDelay)
			return nil
		}

		if err := engine.RetryNow(ctx, jobClass, key); err != nil {
			return err
		}
		fmt.Printf("retry of %s/%s enqueued\n", jobClass, key)
		return nil
	},
}

func init() {
	retryCmd.Flags().DurationVar(&retryDelay, "delay", 0, "delay before the retry is enqueued (default: immediate)")
}
