package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rwalker-dev/foreman/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Display the configuration Foreman would run with, after merging the
user config, project overrides, and environment variables.

Configuration is stored at ~/.config/foreman/config.yaml
Project-specific overrides can be placed in .foreman.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		displayConfig(cfg)
	},
}

func displayConfig(cfg *config.Config) {
	// Never print the key itself.
	apiKeyDisplay := "(not set)"
	if cfg.Classifier.APIKey != "" {
		apiKeyDisplay = "****"
	}

	section := color.New(color.Bold, color.FgCyan)

	section.Println("server")
	fmt.Printf("  addr: %s\n", cfg.Server.Addr)
	fmt.Printf("  shutdown_timeout: %s\n", cfg.Server.ShutdownTimeout)

	section.Println("session")
	fmt.Printf("  queue_size: %d\n", cfg.Session.QueueSize)
	fmt.Printf("  history_limit: %d\n", cfg.Session.HistoryLimit)

	section.Println("classifier")
	fmt.Printf("  provider: %s\n", cfg.Classifier.Provider)
	fmt.Printf("  model: %s\n", cfg.Classifier.Model)
	fmt.Printf("  api_key: %s\n", apiKeyDisplay)
	fmt.Printf("  aws_region: %s\n", cfg.Classifier.AWSRegion)
	fmt.Printf("  aws_profile: %s\n", cfg.Classifier.AWSProfile)

	section.Println("resources")
	fmt.Printf("  inventory_path: %s\n", cfg.Resources.InventoryPath)
	fmt.Printf("  watch: %t\n", cfg.Resources.Watch)

	section.Println("archive")
	fmt.Printf("  path: %s\n", cfg.Archive.Path)
	fmt.Printf("  retention_days: %d\n", cfg.Archive.RetentionDays)

	section.Println("debug")
	fmt.Printf("  data_dir: %s\n", cfg.Debug.DataDir)

	fmt.Printf("\nuser config: %s\n", config.GetUserConfigPath())
	if project := config.GetProjectConfigPath(); project != "" {
		fmt.Printf("project config: %s\n", project)
	}
}
