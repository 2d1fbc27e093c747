package main

import (
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <url>",
		Short: "Show the ingestion status of one reference",
		Args:  cobra.ExactArgs(1),
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
			s, err := manager.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			data := pterm.TableData{
				{"URL", s.URL},
				{"Status", s.CurrentStatus},
			}
			if s.Digest != "" {
				data = append(data, []string{"Digest", s.Digest})
			}
			if s.ObjectKey != "" {
				data = append(data, []string{"Object key", s.ObjectKey})
			}
			if s.Attempts > 0 {
				data = append(data, []string{"Attempts", itoa(s.Attempts)})
			}
			if s.LastAttemptAt != nil {
				data = append(data, []string{"Last attempt", s.LastAttemptAt.Format(time.RFC3339)})
			}
			if s.NextRetryAt != nil {
				data = append(data, []string{"Next retry", s.NextRetryAt.Format(time.RFC3339)})
			}
			if s.FailureReason != "" {
				data = append(data, []string{"Error", s.FailureReason})
			}
			return pterm.DefaultTable.WithData(data).Render()
		},
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
