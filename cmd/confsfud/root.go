package main

import (
	"github.com/spf13/cobra"
)

var configPath string

// rootCmd is the top-level cobra command for confsfud.
var rootCmd = &cobra.Command{
	Use:   "confsfud",
	Short: "Selective forwarding unit for audio conferencing",
	Long:  "confsfud runs the signaling hub and media engine that forward audio between meeting participants.",

	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
}
