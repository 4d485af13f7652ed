package cmd

import (
	"github.com/spf13/cobra"

	"github.com/iderikon/mediastorage-proxy/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy",
	Long:  `Starts the API listener and the metrics listener and serves until SIGINT or SIGTERM.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	srv, err := server.New(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Error("failed to start", map[string]interface{}{"error": err.Error()})
		return err
	}

	logger.Info("mdsproxy starting", map[string]interface{}{
		"listen":     cfg.Server.Listen,
		"backend":    cfg.Storage.Backend,
		"database":   cfg.Database.Type,
		"namespaces": len(cfg.Namespaces),
	})
	return srv.Run(cmd.Context())
}
