package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "ingestor",
		Short:         "Ingest public government documents into object storage",
		Long:          `Discovers document references from configured sources, downloads each one under a per-host rate limit, stores the raw bytes by content digest and records metadata in PostgreSQL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (INGEST_* environment variables override it)")

	root.AddCommand(
		newRunCommand(&configPath),
		newStatusCommand(&configPath),
		newFailuresCommand(&configPath),
		newReconcileCommand(&configPath),
		newSchemaCommand(&configPath),
	)
	return root
}
