package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dukerupert/lingo/internal/config"
	"github.com/dukerupert/lingo/internal/logging"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "lingo",
	Short: "Lingo reminder and push notification service",
	Long: `Lingo decides when learners should be reminded to practice and
delivers those reminders to their devices through Web Push.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); LINGO_* environment variables override it")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment if present")
	rootCmd.AddCommand(serveCmd, vapidKeysCmd, triggerCmd, flushCmd, tokenCmd, syncCmd)
}

// loadConfig reads configuration and sets up the default logger from it.
func loadConfig() (*config.Config, *slog.Logger, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := config.Load(viper.New(), cfgFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.Setup(cfg.LogLevel), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
