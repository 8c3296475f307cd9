// Package cmd wires the mediaflow CLI together.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tphakala/mediaflow/cmd/bench"
	"github.com/tphakala/mediaflow/cmd/config"
	"github.com/tphakala/mediaflow/cmd/run"
	"github.com/tphakala/mediaflow/internal/conf"
	"github.com/tphakala/mediaflow/internal/logging"
)

// RootCommand creates and returns the root command.
func RootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "mediaflow",
		Short: "mediaflow media pipeline engine",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	settings := &conf.Settings{}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logging.Init()

		loaded, err := conf.Load(configPath)
		if err != nil {
			return err
		}
		*settings = *loaded

		if settings.Main.Debug {
			logging.SetLevel(slog.LevelDebug)
		}
		return nil
	}

	rootCmd.AddCommand(
		run.Command(settings),
		bench.Command(settings),
		config.Command(settings),
	)
	return rootCmd
}
