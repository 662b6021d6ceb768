package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
	Name       string // node name for API commands
}

// buildRoot creates the root command and its subcommands.
func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}
	root := createRootCommand(flags)
	root.AddCommand(
		createRunCommand(flags, &RunFlags{}),
		createProbeCommand(flags, &ProbeFlags{}),
		createStatusCommand(flags),
		createStartCommand(flags),
		createConsoleCommand(flags),
		createCallCommand(flags),
		createSendCommand(flags),
		createKillCommand(flags),
		createLogsCommand(flags),
		createHistoryCommand(flags),
	)
	return root
}

// createRootCommand creates the root command with persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "nodekeeper",
		Short: "Supervisor for blockchain node processes",
		Long: `nodekeeper launches a node daemon or account manager, waits for its RPC
endpoint to come up, captures its console and shuts it down cleanly.

Examples:
  nodekeeper run --config nodekeeper.toml -- --testnet
  nodekeeper status
  nodekeeper console status
  nodekeeper call getinfo`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "http://127.0.0.1:8080/api", "supervisor API URL for remote commands")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout for remote commands")
	root.PersistentFlags().StringVar(&flags.Name, "name", "", "node name (optional when one node is supervised)")
	return root
}
