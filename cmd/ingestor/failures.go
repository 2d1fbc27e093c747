package main

import (
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newFailuresCommand(configPath *string) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List references that failed permanently",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			manager, err := a.operator(cmd.Context())
			if err != nil {
				return err
			}
			failures, err := manager.ListFailures(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if len(failures) == 0 {
				pterm.Info.Println("No terminal failures recorded")
				return nil
			}

			data := pterm.TableData{{"URL", "Kind", "Status", "Attempts", "Last attempt", "Error"}}
			for _, f := range failures {
				status := ""
				if f.StatusCode != 0 {
					status = itoa(f.StatusCode)
				}
				data = append(data, []string{
					f.ReferenceURL,
					string(f.ErrorKind),
					status,
					itoa(f.AttemptCount),
					f.LastAttemptAt.Format(time.RFC3339),
					truncate(f.LastError, 80),
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
