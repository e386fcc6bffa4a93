package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haventech/haven/internal/app"
	"github.com/haventech/haven/internal/config"
	"github.com/haventech/haven/internal/prompts"
)

var rootCmd = &cobra.Command{
	Use:   "haven",
	Short: "haven - supportive conversation bot for Telegram",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot (polling + maintenance)",
	RunE:  runBot,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and prompt templates",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show haven status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(runCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	return a.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := prompts.Seed(cfg.Prompts.Dir); err != nil {
		return err
	}
	fmt.Printf("Prompt templates ready: %s\n", cfg.Prompts.Dir)

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set the Telegram token and API key\n", cfgPath)
	fmt.Println("  2. Or set HAVEN_TELEGRAM_TOKEN and HAVEN_API_KEY environment variables")
	fmt.Println("  3. Run 'haven run' to start the bot")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Model: %s\n", cfg.Provider.Model)
	fmt.Printf("Daily limit: %d messages\n", cfg.Limits.DailyMessages)
	fmt.Printf("Session timeout: %dh\n", cfg.Limits.SessionTimeoutHours)
	fmt.Printf("Database: %s\n", cfg.Storage.DBPath)
	fmt.Printf("Prompts: %s\n", cfg.Prompts.Dir)

	fmt.Printf("Telegram token: %s\n", maskSecret(cfg.Telegram.Token))
	fmt.Printf("API key: %s\n", maskSecret(cfg.Provider.APIKey))

	if missing := cfg.Validate(); len(missing) > 0 {
		fmt.Printf("Missing: %v (run 'haven onboard')\n", missing)
	}
	return nil
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return "not set"
	case len(s) > 8:
		return s[:4] + "..." + s[len(s)-4:]
	default:
		return "set"
	}
}
