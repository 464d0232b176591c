package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/output"
	"github.com/Aman-CERP/repoindex/internal/scheduler"
)

func newPassCmd() *cobra.Command {
	var (
		kind       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "pass",
		Short: "Run one scheduler pass and exit",
		Long: `Run a single scheduler pass: update every handled repository, then
garbage-collect the indices of repositories that no longer exist.
Garbage collection is skipped when the listing fails part way.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPass(cmd, kind, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Index kind (default: every enabled kind)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runPass(cmd *cobra.Command, kind string, jsonOutput bool) error {
	ctx := cmd.Context()

	comp, err := openComponents(ctx)
	if err != nil {
		return err
	}
	defer comp.Close()

	kinds, err := selectKinds(comp, kind)
	if err != nil {
		return err
	}

	dcfg := daemonConfig()
	var results []*scheduler.PassResult
	err = withRenewal(ctx, comp, func(ctx context.Context) error {
		for _, k := range kinds {
			m, _ := comp.Manager(k)
			ic := comp.Config.Indexes.All()[k]
			s, err := scheduler.New(scheduler.Dependencies{
				Manager: m,
				Lister:  comp.Repos,
				Leases:  comp.Leases,
				Logger:  slog.Default(),
			}, scheduler.Config{
				PageSize:    ic.PageSize,
				LockDir:     dcfg.LockDir,
				LeaseTTL:    comp.Config.Coordination.LeaseTTL,
				LeasePrefix: comp.Config.Coordination.KeyPrefix,
			})
			if err != nil {
				return err
			}
			res, err := s.RunPass(ctx)
			if err != nil {
				return fmt.Errorf("%s pass: %w", k, err)
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	printPasses(output.New(cmd.OutOrStdout()), results)
	return nil
}

func printPasses(out *output.Writer, results []*scheduler.PassResult) {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		gc := strconv.Itoa(r.GCDeleted)
		switch {
		case r.Skipped:
			gc = "-"
		case r.GCSkipped:
			gc = "skipped"
		}
		rows = append(rows, []string{
			r.Kind,
			strconv.Itoa(r.Seen),
			strconv.Itoa(r.Updated),
			strconv.Itoa(r.NoOp),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.Contended),
			gc,
			r.Duration.Round(time.Millisecond).String(),
		})
	}
	out.Table([]string{"KIND", "SEEN", "UPDATED", "NOOP", "FAILED", "CONTENDED", "GC", "TOOK"}, rows)
	for _, r := range results {
		if r.Skipped {
			out.Warningf("%s pass skipped: another pass holds the host lock", r.Kind)
		}
	}
}
