package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"filevault/internal/bootstrap"
	"filevault/internal/reconcile"
	"filevault/internal/shared/config"
)

func newReconcileCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		dryRun bool
		grace  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Delete stored blobs that no file or profile references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if grace < 0 {
				return fmt.Errorf("--grace must be >= 0")
			}

			app, err := bootstrap.BuildContext(cmd.Context(), *cfg)
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			if app.DB != nil {
				defer app.DB.Close()
			}

			report, err := app.Reconciler.Run(cmd.Context(), reconcile.Options{Grace: grace, DryRun: dryRun})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if *jsonOutput {
				return writeJSON(out, report)
			}
			if dryRun {
				return writePlain(out, "dry run: scanned %d, %d orphaned blobs would be removed\n", report.Scanned, len(report.Orphans))
			}
			return writePlain(out, "scanned %d, removed %d orphaned blobs, %d errors\n", report.Scanned, report.Deleted, report.Errors)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report orphans without deleting")
	cmd.Flags().DurationVar(&grace, "grace", cfg.ReconcileGrace, "skip blobs newer than this")
	return cmd
}
