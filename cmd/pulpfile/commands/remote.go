package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"pulpfile/pkg/core"
	"pulpfile/pkg/meta"
	"pulpfile/pkg/remote"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/datatypes"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Manage remotes",
}

var remoteExcludes []string

var remoteCreateCmd = &cobra.Command{
	Use:   "create <name> <manifest-url>",
	Short: "Register a remote manifest",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := remote.ValidateURL(args[1]); err != nil {
			return err
		}
		excludes, err := json.Marshal(remoteExcludes)
		if err != nil {
			return err
		}
		row := &meta.RemoteModel{
			ID:        uuid.NewString(),
			Name:      args[0],
			URL:       args[1],
			Policy:    core.PolicyImmediate,
			Excludes:  datatypes.JSON(excludes),
			CreatedAt: time.Now().UTC(),
		}
		if err := PF.Meta.CreateRemote(cmd.Context(), row); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created remote %s (%s)\n", row.Name, row.ID)
		return nil
	},
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remotes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := PF.Meta.ListRemotes(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tURL\tEXCLUDES")
		for _, r := range rows {
			var ex []string
			_ = json.Unmarshal(r.Excludes, &ex)
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Name, r.URL, strings.Join(ex, ","))
		}
		return tw.Flush()
	},
}

func init() {
	remoteCreateCmd.Flags().StringSliceVar(&remoteExcludes, "exclude", nil, "gitignore pattern of listed paths to skip (repeatable)")
	remoteCmd.AddCommand(remoteCreateCmd, remoteListCmd)
	rootCmd.AddCommand(remoteCmd)
}
