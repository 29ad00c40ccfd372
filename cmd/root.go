// Package cmd implements the supportbot command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/linanwx/supportbot/config"
)

var configDirFlag string

var rootCmd = &cobra.Command{
	Use:   "supportbot",
	Short: "LLM tool-calling agent for a customer-support helpdesk",
	Long: `supportbot runs a supervised agent that works helpdesk threads one tool
call at a time: searching the knowledge base, triaging urgency and category,
drafting replies and escalating to humans. Every step is persisted as an
agent action.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if configDirFlag != "" {
			config.SetConfigDir(configDirFlag)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDirFlag, "config-dir", "", "Config directory (default ~/.supportbot)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
