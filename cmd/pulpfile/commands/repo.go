package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage repositories",
}

var repoCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a repository with an empty version 0",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := PF.History.CreateRepository(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created repository %s (%s)\n", repo.Name, repo.ID)
		return nil
	},
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List repositories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repos, err := PF.History.ListRepositories(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tLATEST")
		for _, r := range repos {
			latest := "-"
			v, err := PF.History.Latest(ctx, r.ID)
			if err != nil {
				return err
			}
			if v != nil {
				latest = fmt.Sprint(v.Number)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.Name, latest)
		}
		return tw.Flush()
	},
}

func init() {
	repoCmd.AddCommand(repoCreateCmd, repoListCmd)
	rootCmd.AddCommand(repoCmd)
}
