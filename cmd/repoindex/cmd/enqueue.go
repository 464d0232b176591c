package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/output"
	"github.com/Aman-CERP/repoindex/internal/worker"
)

func newEnqueueCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "enqueue <update-index|rebuild-index> <repo> [commit]",
		Short: "Queue an index task for the workers",
		Long: `Push a task onto the Redis queue of one index kind. A worker picks it
up, takes the repository lease and runs it. Without a commit, update
tasks target the repository head at the time they run.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := worker.Task{Op: worker.Op(args[0]), RepoID: args[1]}
			if len(args) == 3 {
				task.CommitID = args[2]
			}
			return runEnqueue(cmd, kind, task)
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Index kind (default: every enabled kind)")
	return cmd
}

func runEnqueue(cmd *cobra.Command, kind string, task worker.Task) error {
	ctx := cmd.Context()
	if err := task.Validate(); err != nil {
		return err
	}

	comp, err := openComponents(ctx)
	if err != nil {
		return err
	}
	defer comp.Close()

	kinds, err := selectKinds(comp, kind)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	for _, k := range kinds {
		q, err := comp.Queue(k)
		if err != nil {
			return err
		}
		if err := worker.Enqueue(ctx, q, task); err != nil {
			return fmt.Errorf("%s queue: %w", k, err)
		}
		out.Successf("Queued %s of %s on %s", task.Op, task.RepoID, q.Name())
	}
	return nil
}
