package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/InahHwang/d-care-console-sub007/internal/application/pipeline"
)

var retryDate string

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Retrigger FAILED and PENDING calls of one local day",
	Long:  "Resets every FAILED or PENDING call with audio created on --date (clinic timezone) and runs the pipeline for each one in this process.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if retryDate == "" {
			retryDate = time.Now().In(cfg.Location()).Format("2006-01-02")
		}

		var a *app
		sched := &inlineScheduler{ctx: cmd.Context(), orch: func() *pipeline.Orchestrator { return a.orch }}
		a, err := buildApp(cmd.Context(), cfg, logger, sched)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.service.RetryFailed(cmd.Context(), retryDate)
		if err != nil {
			return err
		}
		logger.Info("retry-failed finished", zap.String("date", retryDate), zap.Int("retriggered", n))
		fmt.Fprintf(cmd.OutOrStdout(), "%d calls retriggered for %s\n", n, retryDate)
		return nil
	},
}

func init() {
	retryFailedCmd.Flags().StringVar(&retryDate, "date", "", "local day YYYY-MM-DD (default today)")
}
