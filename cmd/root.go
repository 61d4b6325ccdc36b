package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pathwise",
	Short: "Adaptive lesson scheduling",
	Long: "Pathwise tracks each student's place in a shared curriculum, estimates their\n" +
		"mastery of every learning outcome, and recommends which lesson to teach next.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "SQLite path or postgres:// URL (overrides PATHWISE_DB env var)")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default $XDG_CONFIG_HOME/pathwise/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(unenrollCmd)
	rootCmd.AddCommand(customizeCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(masteryCmd)
	rootCmd.AddCommand(taughtCmd)
	rootCmd.AddCommand(versionCmd)
}
