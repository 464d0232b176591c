package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/repoindex/internal/daemon"
	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/index"
	"github.com/Aman-CERP/repoindex/internal/lease"
	"github.com/Aman-CERP/repoindex/internal/output"
)

func newUpdateCmd() *cobra.Command {
	var (
		kind    string
		commit  string
		rebuild bool
	)

	cmd := &cobra.Command{
		Use:   "update <repo>",
		Short: "Bring a repository's indices up to a commit",
		Long: `Update the indices of one repository to a commit, the recorded head
by default. The update runs under the repository's lease, so it never
races the daemon or a worker.`,
		Example: `  # Update every enabled index to the head commit
  repoindex update 6f1c...e2

  # Rebuild only the filename index from scratch
  repoindex update 6f1c...e2 --kind filename --rebuild`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, args[0], kind, commit, rebuild)
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Index kind (default: every enabled kind)")
	cmd.Flags().StringVar(&commit, "commit", "", "Target commit (default: recorded head)")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Drop the index and rebuild it")

	return cmd
}

func newDropCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "drop <repo>",
		Short: "Delete a repository's index and status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrop(cmd, args[0], kind)
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Index kind (default: every enabled kind)")
	return cmd
}

func runUpdate(cmd *cobra.Command, repoID, kind, commit string, rebuild bool) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	comp, err := openComponents(ctx)
	if err != nil {
		return err
	}
	defer comp.Close()

	kinds, err := selectKinds(comp, kind)
	if err != nil {
		return err
	}
	if commit == "" {
		if commit, err = comp.Repos.HeadCommit(ctx, repoID); err != nil {
			return err
		}
		if commit == "" {
			return rerrors.NotFound(fmt.Sprintf("repository %s has no head commit", repoID), nil)
		}
	}

	for _, k := range kinds {
		m, _ := comp.Manager(k)
		start := time.Now()
		var res *index.UpdateResult
		err := withLease(ctx, comp, k, repoID, func(ctx context.Context) error {
			var err error
			if rebuild {
				res, err = m.Rebuild(ctx, repoID, commit)
			} else {
				res, err = m.Update(ctx, repoID, commit)
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("%s index: %w", k, err)
		}
		printUpdate(out, k, res, time.Since(start))
	}
	return nil
}

func runDrop(cmd *cobra.Command, repoID, kind string) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	comp, err := openComponents(ctx)
	if err != nil {
		return err
	}
	defer comp.Close()

	kinds, err := selectKinds(comp, kind)
	if err != nil {
		return err
	}
	for _, k := range kinds {
		m, _ := comp.Manager(k)
		if err := withLease(ctx, comp, k, repoID, func(ctx context.Context) error {
			return m.DeleteRepoIndex(ctx, repoID)
		}); err != nil {
			return fmt.Errorf("%s index: %w", k, err)
		}
		out.Successf("Dropped %s index of %s", k, repoID)
	}
	return nil
}

// withLease runs fn while holding the repository lease of kind.
func withLease(ctx context.Context, comp *daemon.Components, kind, repoID string, fn func(context.Context) error) error {
	co := comp.Config.Coordination
	key := lease.Key(co.KeyPrefix, kind, repoID)

	ok, err := comp.Leases.Acquire(ctx, key, co.LeaseTTL)
	if err != nil {
		return err
	}
	if !ok {
		return rerrors.CoordinationError(fmt.Sprintf("repository %s is being indexed elsewhere", repoID), nil).
			WithDetail("lease", key).
			WithSuggestion("retry once the running update finishes")
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := comp.Leases.Release(relCtx, key); err != nil {
			slog.Warn("lease_release_failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}()
	return withRenewal(ctx, comp, fn)
}

// withRenewal runs fn while the lease manager renews every held lease, so
// work longer than the lease TTL keeps its leases.
func withRenewal(ctx context.Context, comp *daemon.Components, fn func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	renewCtx, stopRenewal := context.WithCancel(gctx)
	g.Go(func() error {
		return comp.Leases.Run(renewCtx)
	})
	g.Go(func() error {
		defer stopRenewal()
		return fn(gctx)
	})
	return g.Wait()
}

func printUpdate(out *output.Writer, kind string, res *index.UpdateResult, took time.Duration) {
	if res.NoOp {
		out.Successf("%s index of %s already at %s", kind, res.RepoID, short(res.ToCommit))
		return
	}
	fields := []output.Field{
		{Label: "Repository", Value: res.RepoID},
		{Label: "From", Value: short(res.FromCommit)},
		{Label: "To", Value: short(res.ToCommit)},
		{Label: "Upserted", Value: strconv.Itoa(res.Upserted)},
		{Label: "Deleted", Value: strconv.Itoa(res.Deleted + res.PrefixDeleted)},
		{Label: "Took", Value: took.Round(time.Millisecond).String()},
	}
	if res.Recovered {
		fields = append(fields, output.Field{Label: "Recovered", Value: "interrupted update redone"})
	}
	if res.Reindexed {
		fields = append(fields, output.Field{Label: "Reindexed", Value: "from scratch"})
	}
	out.Fields("Updated "+kind+" index", fields)
}

// short abbreviates a commit id for display.
func short(id string) string {
	switch {
	case id == "":
		return "-"
	case len(id) > 12:
		return id[:12]
	default:
		return id
	}
}
