package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex-phones",
	Short: "Rebuild the canonical phone index from the patients table",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		if st.db != nil {
			defer st.db.Close()
		}

		r, ok := st.directory.(reindexer)
		if !ok {
			return fmt.Errorf("reindex-phones: driver %q keeps no patients table", cfg.Database.Driver)
		}
		n, err := r.ReindexAll(cmd.Context())
		if err != nil {
			return fmt.Errorf("reindex-phones: %d patients indexed before error: %w", n, err)
		}
		logger.Info("phone index rebuilt", zap.Int("patients", n))
		fmt.Fprintf(cmd.OutOrStdout(), "%d patients indexed\n", n)
		return nil
	},
}
