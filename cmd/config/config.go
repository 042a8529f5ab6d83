// Package config provides commands for the configuration file.
package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/battycoda/battycoda/internal/conf"
)

// Command returns the config command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and export the configuration",
	}
	cmd.AddCommand(saveCommand(settings))
	return cmd
}

func saveCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "save <path>",
		Short: "Write the effective configuration, defaults and environment included, to a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := conf.SaveYAMLConfig(args[0], settings); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", args[0])
			return nil
		},
	}
}
