package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iderikon/mediastorage-proxy/pkg/config"
	"github.com/iderikon/mediastorage-proxy/pkg/logging"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mdsproxy",
	Short: "HTTP proxy in front of media storage",
	Long: `mdsproxy accepts object uploads and downloads over HTTP, stores payloads
on a storage backend and keeps object metadata in a database.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./mdsproxy.yaml or /etc/mdsproxy/mdsproxy.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level: debug, info, warn, error")
}

// loadConfig reads the configuration selected by the global flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// newLogger creates the process logger described by cfg
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Log.Level)
	if cfg.Log.File == "" {
		return logging.NewLogger(level, cfg.Log.JSON), nil
	}
	logger, err := logging.NewFileLogger(cfg.Log.File, level, cfg.Log.JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logger, nil
}
