package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"because/internal/config"
)

var (
	configPath string

	cfg config.Config
	log = logrus.New()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "because",
	Short: "Save things together with the reason they matter",
	Long: `because keeps a list of links and notes, each saved with the reason it
mattered at the time, and sorts them into topics automatically.

Items are stored locally under DATA_DIR. Topics come from your own AI
provider key (see "because key") or from a shared relay (RELAY_URL).`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./configs", "Directory containing config.yaml")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(reclassifyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(botCmd)
	rootCmd.AddCommand(relayCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and configures the logger. Stdout is kept for
// command output; logs go to stderr.
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)

	log.WithFields(logrus.Fields{
		"data_dir": cfg.DataDir,
		"command":  cmd.Name(),
	}).Debug("Configuration loaded successfully")
	return nil
}
