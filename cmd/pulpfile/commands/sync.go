package commands

import (
	"context"
	"fmt"

	"pulpfile/pkg/api"
	"pulpfile/pkg/synchronizer"
	"pulpfile/pkg/tasking"

	"github.com/spf13/cobra"
)

var syncMirror bool

var syncCmd = &cobra.Command{
	Use:   "sync <repository> <remote>",
	Short: "Sync a repository from a remote manifest",
	Long: `Fetch the remote manifest, download missing files and create a new
repository version. With --mirror, units the remote no longer lists are
removed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, err := resolveRepository(ctx, args[0])
		if err != nil {
			return err
		}
		rem, err := resolveRemote(ctx, args[1])
		if err != nil {
			return err
		}

		var res *synchronizer.Result
		resources := []string{api.RepositoryHref(repo.ID), api.RemoteHref(rem.ID)}
		err = runTask(ctx, "sync", resources, func(ctx context.Context, _ *tasking.Task) error {
			var err error
			res, err = PF.Sync.Sync(ctx, repo.ID, rem, syncMirror)
			return err
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !res.Created {
			fmt.Fprintf(out, "Already up to date at version %d\n", res.Version.Number)
			return nil
		}
		fmt.Fprintf(out, "Created version %d: +%d -%d (%d downloaded)\n",
			res.Version.Number, res.Added, res.Removed, res.Downloaded)
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncMirror, "mirror", false, "remove units not listed by the remote")
	rootCmd.AddCommand(syncCmd)
}
