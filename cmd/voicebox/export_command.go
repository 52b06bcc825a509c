package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"voicebox/internal/export"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var output string
	var statuses []string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export items to an Excel workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			items, err := client.ListItems(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			if err := export.WriteXLSX(output, items); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d items to %s\n", len(items), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "voicebox_export.xlsx", "Output file path")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only export items with these statuses")
	return cmd
}
