package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor    bool
	configPath string
	serverURL  string
)

var rootCmd = &cobra.Command{
	Use:           "marketingd",
	Short:         "Multi-tenant marketing automation engine",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default $HOME/.marketingd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "base URL of a running marketingd (default http://127.0.0.1:<server.port>)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tenantCmd)
	rootCmd.AddCommand(orchestrateCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(decisionsCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
