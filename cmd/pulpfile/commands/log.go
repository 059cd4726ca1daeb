package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ANSI colors, as in git log
const (
	colorYellow = "\033[33m"
	colorReset  = "\033[0m"
)

var logCmd = &cobra.Command{
	Use:   "log <repository>",
	Short: "Show the version history of a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, err := resolveRepository(ctx, args[0])
		if err != nil {
			return err
		}
		versions, err := PF.History.List(ctx, repo.ID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		// newest first
		for i := len(versions) - 1; i >= 0; i-- {
			v := versions[i]
			fmt.Fprintf(out, "%sversion %d%s\n", colorYellow, v.Number, colorReset)
			fmt.Fprintf(out, "Digest: %s\n", v.ContentDigest)
			fmt.Fprintf(out, "Date:   %s\n", v.CreatedAt.Local().Format("Mon, 02 Jan 2006 15:04:05 MST"))
			fmt.Fprintf(out, "\n    +%d -%d, %d units\n\n", v.Summary.Added, v.Summary.Removed, v.Summary.Present)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logCmd)
}
