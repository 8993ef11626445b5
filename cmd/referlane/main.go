package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "referlane",
	Short: "Referral matching and nudge engine",
	Long: `referlane matches member profiles against job postings and generates
ranked, explainable referral nudges. It tracks nudge interactions, computes
referral funnels, and keeps the paid enrichment spend inside a budget.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)

	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(nudgesCmd)
	rootCmd.AddCommand(interactCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(funnelCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(summaryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
