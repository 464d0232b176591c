package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/output"
	"github.com/Aman-CERP/repoindex/internal/repolist"
)

func newRepoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage the local repository list",
		Long: `Manage the repository list the schedulers page through. Deployments
that own their repository database point repos.path at it instead.`,
	}

	cmd.AddCommand(newRepoSetCmd())
	cmd.AddCommand(newRepoRemoveCmd())
	cmd.AddCommand(newRepoVirtualCmd())
	cmd.AddCommand(newRepoListCmd())
	return cmd
}

func newRepoSetCmd() *cobra.Command {
	var repoType, name string

	cmd := &cobra.Command{
		Use:   "set <repo> <head-commit>",
		Short: "Add a repository or move its head",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepos(cmd, func(r *repolist.SQLite) error {
				return r.Upsert(cmd.Context(), repolist.Repo{ID: args[0], HeadCommit: args[1], Type: repoType, Name: name})
			}, "Recorded "+args[0])
		},
	}

	cmd.Flags().StringVar(&repoType, "type", "repo", "Repository type (content skips wiki)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	return cmd
}

func newRepoRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <repo>",
		Short: "Remove a repository; its indices go at the next pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepos(cmd, func(r *repolist.SQLite) error {
				return r.Delete(cmd.Context(), args[0])
			}, "Removed "+args[0])
		},
	}
}

func newRepoVirtualCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "virtual <repo> <origin>",
		Short: "Mark a repository as a virtual mirror, which is never indexed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepos(cmd, func(r *repolist.SQLite) error {
				return r.MarkVirtual(cmd.Context(), args[0], args[1])
			}, args[0]+" is virtual")
		},
	}
}

func newRepoListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			r, err := repolist.OpenSQLite(reposPath())
			if err != nil {
				return err
			}
			defer r.Close()

			var rows [][]string
			const page = 500
			for offset := 0; ; offset += page {
				repos, err := r.ListRepos(ctx, offset, page)
				if err != nil {
					return err
				}
				ids := make([]string, len(repos))
				for i, repo := range repos {
					ids[i] = repo.ID
				}
				virtual, err := r.VirtualRepos(ctx, ids)
				if err != nil {
					return err
				}
				for _, repo := range repos {
					v := ""
					if _, ok := virtual[repo.ID]; ok {
						v = "virtual"
					}
					rows = append(rows, []string{repo.ID, short(repo.HeadCommit), repo.Type, repo.Name, v})
				}
				if len(repos) < page {
					break
				}
			}
			output.New(cmd.OutOrStdout()).Table([]string{"REPO", "HEAD", "TYPE", "NAME", ""}, rows)
			return nil
		},
	}
}

// withRepos opens only the repository list, so editing it does not need
// the backend or coordination store.
func withRepos(cmd *cobra.Command, fn func(*repolist.SQLite) error, done string) error {
	r, err := repolist.OpenSQLite(reposPath())
	if err != nil {
		return err
	}
	defer r.Close()

	if err := fn(r); err != nil {
		return err
	}
	output.New(cmd.OutOrStdout()).Success(done)
	return nil
}

func reposPath() string {
	appConfig.Resolve()
	return appConfig.Repos.Path
}
