package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mikey/reply-checker/internal/di"
	"github.com/spf13/cobra"
)

// Version is set via ldflags at build time.
var Version = "dev"

var (
	flags      di.CLIFlags
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "replyctl",
	Short:         "replyctl - operate the reply checker",
	Long:          "Run reply checks, review dead letters and probe mailbox providers from the command line.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("replyctl version %s\n", Version)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.ConfigFile, "config", "", "path to config file")
	pf.StringVar(&flags.StoreType, "store", "", "store backend override (memory, sqlite, mysql)")
	pf.StringVar(&flags.StorePath, "db", "", "SQLite database path override")
	pf.StringVar(&flags.StoreDSN, "dsn", "", "MySQL DSN override")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&flags.JSONLog, "json-log", false, "output logs in JSON format")
	pf.BoolVar(&jsonOutput, "json", false, "machine-readable output")

	rootCmd.AddCommand(versionCmd, checkCmd, reviewCmd, statsCmd, pendingCmd, healthCmd, aliasesCmd)
}

// invoke builds the CLI container and runs fn with its dependencies
func invoke(fn interface{}) error {
	container, err := di.BuildCLIContainer(&flags)
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	return container.Invoke(fn)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
