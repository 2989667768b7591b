// Package cmd contains the CLI commands for chfs
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Global vars needed for cobra CLI
var (
	cfgFile string
	logger  *logrus.Logger
)

// rootCmd represents the base command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var rootCmd = &cobra.Command{
	Use:   "chfs",
	Short: "ClickHouse feature store - churn feature pipeline",
	Long: `chfs builds churn prediction features from a raw customer table,
publishes them to a ClickHouse feature table, a separate label table with a
deterministic train/validate/test split and a Redis online table, and
registers on-demand feature functions.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level overriding the config (debug, info, warn, error, fatal, panic)")

	// Initialize logger
	logger = logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = "./config.yaml"
	}

	// Values from .env are visible to ${VAR} references in the config file
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.WithError(err).Warn("Failed to load .env file")
	}
}

// setupLogger applies the --log-level flag, falling back to the configured level
func setupLogger(cmd *cobra.Command, configured string) error {
	levelName := configured

	if flag, err := cmd.Flags().GetString("log-level"); err == nil && flag != "" {
		levelName = flag
	}

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return err
	}

	logger.SetLevel(level)

	return nil
}
