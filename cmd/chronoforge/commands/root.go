// Package commands implements the chronoforge CLI: a demonstration harness
// wiring the library's Store, Queue, and Telemetry reference
// implementations together, in the teacher's cobra+viper style.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/radioactive-labs/chrono-forge/internal/logging"
	"github.com/radioactive-labs/chrono-forge/internal/version"
)

var (
	cfgFile   string
	debugMode bool
)

var rootCmd = &cobra.Command{
	Use:     "chronoforge",
	Short:   "Run and operate chrono-forge durable workflows",
	Version: version.GetVersionString(),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Initialize(debugMode)
	},
}

// Execute runs the CLI, returning any error for main to report.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.chronoforge.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("database-url", "chronoforge.db", "SQLite file path or libsql:// URL")
	rootCmd.PersistentFlags().String("nats-url", "", "NATS server URL (empty embeds one)")
	rootCmd.PersistentFlags().String("nats-store-dir", "", "storage directory for the embedded NATS server")

	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))
	_ = viper.BindPFlag("nats_url", rootCmd.PersistentFlags().Lookup("nats-url"))
	_ = viper.BindPFlag("nats_store_dir", rootCmd.PersistentFlags().Lookup("nats-store-dir"))

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(reapCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".chronoforge")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CHRONOFORGE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logging.Debug("using config file: %s", viper.ConfigFileUsed())
	}
}

func databaseURL() string { return viper.GetString("database_url") }
func natsURL() string     { return viper.GetString("nats_url") }
func natsStoreDir() string {
	if dir := viper.GetString("nats_store_dir"); dir != "" {
		return dir
	}
	return fmt.Sprintf("%s/.chronoforge/nats", mustHomeDir())
}

func mustHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
