package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/user/document-ingestion/internal/adapter/postgres"
	"github.com/user/document-ingestion/internal/usecase"
)

func newReconcileCommand(configPath *string) *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Find stored objects that no document record references",
		Long: `Lists every object under the content prefix and reports those without a
document record. Such orphans are left when a process stops between upload and
commit and the reference is never retried. Run it while no ingestion is active.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			db, err := a.postgres(ctx)
			if err != nil {
				return err
			}
			store, err := a.objectStore(ctx)
			if err != nil {
				return err
			}

			r := usecase.NewReconciler(store, postgres.NewDocumentRepo(db), a.cfg.S3.Prefix, a.logger)
			spinner, _ := pterm.DefaultSpinner.Start("Scanning objects")
			report, err := r.Sweep(ctx, remove)
			if err != nil {
				spinner.Fail(err.Error())
				return err
			}
			spinner.Success("Scan finished")

			pterm.Info.Printfln("Scanned %d objects, %d orphaned, %d deleted", report.Scanned, len(report.Orphans), report.Deleted)
			if len(report.Orphans) > 0 && !remove {
				_ = pterm.DefaultBulletList.WithItems(bullets(report.Orphans)).Render()
				pterm.Info.Println("Re-run with --delete to remove them")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "delete", false, "Delete orphaned objects")
	return cmd
}

func bullets(items []string) []pterm.BulletListItem {
	out := make([]pterm.BulletListItem, 0, len(items))
	for _, it := range items {
		out = append(out, pterm.BulletListItem{Level: 0, Text: it})
	}
	return out
}
