// Package config implements the config subcommand printing the effective
// settings.
package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/mediaflow/internal/conf"
)

// Command returns the config subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := settings.DumpYAML()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}
