package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/daemon"
	"github.com/Aman-CERP/repoindex/internal/output"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [repo]",
		Short: "Show daemon status, or the index status of a repository",
		Example: `  # Daemon schedulers, workers and leases
  repoindex status

  # Per-kind index status of one repository
  repoindex status 6f1c...e2`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runRepoStatus(cmd, args[0], jsonOutput)
			}
			return runDaemonStatus(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// repoKindStatus is the index status of one repository for one kind.
type repoKindStatus struct {
	Kind       string    `json:"kind"`
	FromCommit string    `json:"from_commit"`
	ToCommit   string    `json:"to_commit,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

func runRepoStatus(cmd *cobra.Command, repoID string, jsonOutput bool) error {
	ctx := cmd.Context()

	comp, err := openComponents(ctx)
	if err != nil {
		return err
	}
	defer comp.Close()

	var statuses []repoKindStatus
	for _, k := range comp.Kinds() {
		m, _ := comp.Manager(k)
		st, err := m.Status(ctx, repoID)
		if err != nil {
			return err
		}
		statuses = append(statuses, repoKindStatus{Kind: k, FromCommit: st.FromCommit, ToCommit: st.ToCommit, UpdatedAt: st.UpdatedAt})
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	out := output.New(cmd.OutOrStdout())
	for _, st := range statuses {
		state := "indexed"
		switch {
		case st.ToCommit != "":
			state = "interrupted, resumes on next update"
		case st.FromCommit == "":
			state = "not indexed"
		}
		fields := []output.Field{
			{Label: "State", Value: state},
			{Label: "Commit", Value: short(st.FromCommit)},
		}
		if st.ToCommit != "" {
			fields = append(fields, output.Field{Label: "Target", Value: short(st.ToCommit)})
		}
		if !st.UpdatedAt.IsZero() {
			fields = append(fields, output.Field{Label: "Updated", Value: st.UpdatedAt.Format(time.RFC3339)})
		}
		out.Fields(fmt.Sprintf("%s index of %s", st.Kind, repoID), fields)
	}
	return nil
}

func runDaemonStatus(cmd *cobra.Command, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())
	client := daemon.NewClient(daemonConfig())

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	if !client.IsRunning() {
		if jsonOutput {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(daemon.StatusResult{})
		}
		out.Warning("Daemon is not running")
		out.Status("", "Start it with: repoindex serve")
		return nil
	}

	st, err := client.Status(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	out.Fields("Daemon", []output.Field{
		{Label: "PID", Value: strconv.Itoa(st.PID)},
		{Label: "Uptime", Value: st.Uptime},
		{Label: "Owner", Value: st.Owner},
		{Label: "Leases held", Value: strconv.Itoa(st.LeasesHeld)},
	})

	rows := make([][]string, 0, len(st.Schedulers))
	for _, s := range st.Schedulers {
		state, last := "idle", "-"
		if s.Running {
			state = fmt.Sprintf("running (%d done, %d failed)", s.Processed, s.Failed)
		}
		if p := s.LastPass; p != nil {
			last = fmt.Sprintf("%s: %d updated, %d failed, %d gc",
				p.StartedAt.Format(time.DateTime), p.Updated, p.Failed, p.GCDeleted)
		}
		rows = append(rows, []string{s.Kind, state, last})
	}
	out.Table([]string{"KIND", "STATE", "LAST PASS"}, rows)

	if len(st.Workers) > 0 {
		out.Newline()
		rows = rows[:0]
		for _, w := range st.Workers {
			rows = append(rows, []string{w.Kind, w.Queue, strconv.FormatInt(w.Handled, 10)})
		}
		out.Table([]string{"KIND", "QUEUE", "HANDLED"}, rows)
	}
	return nil
}
