// Package main provides the depdb CLI: a driver for the persistent
// dependency database exercising build and status reporting against a
// TOML rule file.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// Global flags shared by every subcommand.
var (
	dbPath     string
	rulesPath  string
	jobs       int
	watch      bool
	otelStdout bool
)

var failStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
	Light: "#f07171",
	Dark:  "#f07178",
})

var rootCmd = &cobra.Command{
	Use:   "depdb",
	Short: "Drive a persistent build-dependency database",
	Long: `depdb is a forward-chaining build driver backed by a persistent
dependency database: values are rebuilt only when something they
transitively depend on has actually changed since their last successful
build.

Examples:
  depdb build app                 # build the "app" target
  depdb build --watch app          # build, then rebuild on source changes
  depdb status                     # dump the current snapshot`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "depdb", "path prefix for the database and journal files")
	rootCmd.PersistentFlags().StringVar(&rulesPath, "rules", "rules.toml", "path to the TOML rule file")
	rootCmd.PersistentFlags().BoolVar(&otelStdout, "otel-stdout", true, "emit trace/metric spans to stdout")

	buildCmd.Flags().IntVar(&jobs, "jobs", 0, "bound concurrent recipe executions (0 = unbounded)")
	buildCmd.Flags().BoolVar(&watch, "watch", false, "rebuild affected targets as their sources change")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
