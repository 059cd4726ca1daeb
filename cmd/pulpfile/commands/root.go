package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"pulpfile/pkg/app"
	"pulpfile/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// PF is the application shared by subcommands.
	PF *app.App
)

// commands annotated with noApp run without the local engine
const noApp = "pulpfile/no-app"

var rootCmd = &cobra.Command{
	Use:           "pulpfile",
	Short:         "pulpfile: sync and publish file repositories",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := cmd.Annotations[noApp]; ok || PF != nil {
			return nil
		}
		logger, err := config.NewLogger(os.Stderr, viper.GetString("log.level"), viper.GetString("log.format"))
		if err != nil {
			return err
		}
		PF, err = app.NewApp(cmd.Context(), logger)
		if err != nil {
			return fmt.Errorf("failed to initialize pulpfile: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeApp()
	},
}

func Execute() error {
	err := rootCmd.ExecuteContext(context.Background())
	// post-run hooks are skipped on error
	_ = closeApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func closeApp() error {
	if PF == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := PF.Close(ctx)
	PF = nil
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pulpfile/config.yaml)")

	flags := []struct{ flag, key, usage string }{
		{"storage-path", "storage.path", "directory to store objects"},
		{"database-path", "database.path", "sqlite metadata file"},
		{"log-level", "log.level", "debug, info, warn or error"},
	}
	for _, f := range flags {
		rootCmd.PersistentFlags().String(f.flag, "", f.usage)
		if err := viper.BindPFlag(f.key, rootCmd.PersistentFlags().Lookup(f.flag)); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to bind flag:", err)
			os.Exit(1)
		}
	}
}

func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, "Config error:", err)
		os.Exit(1)
	}
}
