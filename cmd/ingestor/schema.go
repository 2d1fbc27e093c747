package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/user/document-ingestion/internal/adapter/postgres"
)

func newSchemaCommand(configPath *string) *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create the PostgreSQL tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly {
				fmt.Print(postgres.Schema())
				return nil
			}
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			db, err := a.postgres(cmd.Context())
			if err != nil {
				return err
			}
			if err := postgres.ApplySchema(cmd.Context(), db); err != nil {
				return err
			}
			pterm.Success.Println("Schema applied")
			return nil
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the DDL instead of applying it")
	return cmd
}
