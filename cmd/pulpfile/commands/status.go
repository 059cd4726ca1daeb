package commands

import (
	"context"
	"fmt"
	"time"

	"pulpfile/pkg/client"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusService string

var statusCmd = &cobra.Command{
	Use:         "status",
	Short:       "Query the health of a running pulpfile-server",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{noApp: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := viper.GetString("server.grpc_addr")
		c, err := client.New(addr)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		out, err := c.Status(ctx, statusService)
		if err != nil {
			return fmt.Errorf("%s: %w", addr, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusService, "service", "", "service name (empty for the whole server)")
	statusCmd.Flags().String("addr", "", "gRPC address of the server")
	_ = viper.BindPFlag("server.grpc_addr", statusCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(statusCmd)
}
