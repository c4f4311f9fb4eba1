// Package main provides the entry point for the unsafe-track tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DCNick3/unsafe-track/cmd/unsafe-track/commands"
	"github.com/DCNick3/unsafe-track/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "unsafe-track",
		Short: "Track unsafe Rust usage across a repository's history",
		Long: `unsafe-track fetches a repository over the git smart HTTP protocol,
analyzes every commit's Rust sources for unsafe constructs, and charts
how the safe/unsafe balance evolves over time.

Commands:
  analyse   Analyze one repository and print or export the series
  serve     Run the chart web service`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewAnalyseCommand())
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "unsafe-track %s (commit: %s, built: %s)\n",
				version.Version, version.Commit, version.Date)
		},
	}
}
