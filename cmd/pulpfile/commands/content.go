package commands

import (
	"fmt"
	"text/tabwriter"

	"pulpfile/pkg/meta"

	"github.com/spf13/cobra"
)

var (
	contentPath    string
	contentDigest  string
	contentVersion int64
)

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Inspect file content units",
}

var contentListCmd = &cobra.Command{
	Use:   "ls [repository]",
	Short: "List content units, globally or in a repository version",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PATH\tDIGEST\tSIZE")

		if len(args) == 0 {
			rows, err := PF.Meta.FindContent(ctx, meta.ContentFilter{RelativePath: contentPath, Digest: contentDigest})
			if err != nil {
				return err
			}
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", r.RelativePath, r.Digest, r.Size)
			}
			return tw.Flush()
		}

		repo, err := resolveRepository(ctx, args[0])
		if err != nil {
			return err
		}
		v, err := PF.History.Latest(ctx, repo.ID)
		if cmd.Flags().Changed("version") {
			v, err = PF.History.At(ctx, repo.ID, contentVersion)
		}
		if err != nil {
			return err
		}
		if v == nil {
			return tw.Flush()
		}
		for _, u := range v.Content.Units() {
			if contentPath != "" && u.RelativePath != contentPath {
				continue
			}
			if contentDigest != "" && string(u.Digest) != contentDigest {
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\n", u.RelativePath, u.Digest, u.Size)
		}
		return tw.Flush()
	},
}

func init() {
	contentListCmd.Flags().StringVar(&contentPath, "path", "", "only this relative path")
	contentListCmd.Flags().StringVar(&contentDigest, "digest", "", "only this sha256 digest")
	contentListCmd.Flags().Int64Var(&contentVersion, "version", 0, "repository version (default latest)")
	contentCmd.AddCommand(contentListCmd)
	rootCmd.AddCommand(contentCmd)
}
