// Package main provides the ciencia command: the pipeline workspace API server
// and an interactive workspace client.
package main

import (
	"fmt"
	"os"

	"github.com/jonathan/ciencia/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ciencia",
	Short: "CiencIA pipeline workspace",
	Long: "CiencIA stores Nextflow pipelines per project, generates scripts from plain-language " +
		"descriptions, and launches runs through the Nextflow engine.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (default: ./ciencia.yaml if present)")
}

// loadConfig reads the config file and environment for a subcommand
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
