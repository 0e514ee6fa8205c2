package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags, &RunFlags{}),
		createCheckCommand(globalFlags),
		createHistoryCommand(globalFlags, &HistoryFlags{}),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "respawn",
		Short: "Keep one worker process running",
		Long: `Respawn launches a worker program, relays its output, and relaunches it
after every exit with a fixed pause and a daily restart quota.
SIGINT or SIGTERM stops the worker gracefully and exits.

Examples:
  respawn run -- python bot.py
  respawn run --config respawn.toml
  respawn check --config respawn.toml
  respawn history --dsn sqlite://history.db --limit 20`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")

	return root
}
