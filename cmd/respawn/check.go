package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/respawn/internal/config"
)

func createCheckCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check [-- command [args...]]",
		Short: "Validate the configuration and print the effective settings",
		Long: `Load the config file and environment overrides, apply an optional command
line, validate the result and print every effective setting.

Examples:
  respawn check --config respawn.toml
  RESPAWN_POLICY_MAX_RESTARTS_PER_DAY=10 respawn check -- ./worker`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			c.ApplyCommandLine(args)
			if err := c.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if _, err := c.ResolveEnv(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			out := cmd.OutOrStdout()
			if err := c.Describe(out); err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, "configuration OK")
			return err
		},
	}
}
