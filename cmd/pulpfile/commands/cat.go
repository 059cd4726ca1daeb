package commands

import (
	"fmt"

	"pulpfile/pkg/exporter"
	"pulpfile/pkg/types"

	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:   "cat <publication> <path>",
	Short: "Print a published file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return PF.Publisher.Serve(cmd.Context(), types.PublicationID(args[0]), args[1], cmd.OutOrStdout())
	},
}

var showCmd = &cobra.Command{
	Use:   "show <object-hash>",
	Short: "Describe a stored object (short hashes accepted)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		hash, err := PF.Store.ExpandHash(ctx, types.HashPrefix(args[0]))
		if err != nil {
			return fmt.Errorf("invalid object '%s': %w", args[0], err)
		}
		return exporter.NewExporter(PF.Store).PrintObject(ctx, hash, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(catCmd, showCmd)
}
