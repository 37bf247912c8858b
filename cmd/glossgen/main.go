package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "glossgen",
		Short: "Glossgen - batch AI content generation for glossary terms",
		Long: `Glossgen drives large-scale AI-assisted content generation across
glossary terms: it estimates cost up front, enforces safety and rate
limits, dispatches rate-limited concurrent batches and monitors
progress with alerts and milestone reports.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
