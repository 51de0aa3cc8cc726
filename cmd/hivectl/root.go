package main

import (
	"fmt"

	"github.com/liliang-cn/hive/pkg/hivelog"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	version string = "dev"

	log = hivelog.WithModule("cli")
)

var rootCmd = &cobra.Command{
	Use:   "hivectl",
	Short: "hive - multi-provider LLM orchestrator",
	Long: `hivectl drives a Hive orchestrator: it decomposes a goal into role-specialized
subtasks, dispatches them across a pool of LLM endpoints with failover, and
synthesizes the results.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		hivelog.SetDebug(verbose)
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hivectl version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(workersCmd)
}
