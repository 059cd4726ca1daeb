package commands

import (
	"context"
	"fmt"

	"pulpfile/pkg/api"
	"pulpfile/pkg/core"
	"pulpfile/pkg/publisher"
	"pulpfile/pkg/tasking"
	"pulpfile/pkg/types"

	"github.com/spf13/cobra"
)

var (
	publishVersion  int64
	publishManifest string
)

var publishCmd = &cobra.Command{
	Use:   "publish <repository>",
	Short: "Publish the latest (or a given) repository version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, err := resolveRepository(ctx, args[0])
		if err != nil {
			return err
		}

		target := publisher.ByRepository(repo.ID)
		if cmd.Flags().Changed("version") {
			target = publisher.ByVersion(repo.ID, publishVersion)
		}
		var pub *core.Publication
		err = runTask(ctx, "publish", []string{api.RepositoryHref(repo.ID)}, func(ctx context.Context, _ *tasking.Task) error {
			var err error
			pub, err = PF.Publisher.Publish(ctx, target, publishManifest)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Published %s as %s (%d files, manifest %s)\n",
			target, pub.ID, len(pub.Layout)-1, pub.Manifest)
		return nil
	},
}

var publicationsCmd = &cobra.Command{
	Use:   "publications [repository]",
	Short: "List publications",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var repoID types.RepositoryID
		if len(args) == 1 {
			repo, err := resolveRepository(ctx, args[0])
			if err != nil {
				return err
			}
			repoID = repo.ID
		}
		pubs, err := PF.Publisher.List(ctx, repoID)
		if err != nil {
			return err
		}
		for _, p := range pubs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s/versions/%d  %s  %s\n",
				p.ID, p.RepositoryID, p.VersionNumber, p.Manifest, p.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	publishCmd.Flags().Int64Var(&publishVersion, "version", 0, "repository version number to publish")
	publishCmd.Flags().StringVar(&publishManifest, "manifest", "", "manifest file name (default PULP_MANIFEST)")
	rootCmd.AddCommand(publishCmd, publicationsCmd)
}
