package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/InahHwang/d-care-console-sub007/internal/config"
)

var (
	cfg        *config.Config
	logger     *zap.Logger
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "callintel",
	Short: "Call intelligence pipeline for the clinic console",
	Long:  "Ingests finished call recordings, resolves the caller against the patient directory, transcribes and classifies the conversation, and serves the results to the console.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.Path()
		}
		c, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		l, err := config.NewLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $CONFIG_PATH or config.yaml)")
	rootCmd.AddCommand(serveCmd, migrateCmd, retryFailedCmd, reindexCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
