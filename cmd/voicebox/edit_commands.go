package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"voicebox/internal/api"
)

func newSetFieldCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-field <id> <field> <value>",
		Short: "Update one extracted field of an item",
		Long: `Update one extracted field of an item.

Fields: vorname, nachname, geburtsdatum, anfragetyp, nameMedikament,
dosis, fachrichtung, grundUeberweisung, extraInformation, phone, rating.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			item, err := client.UpdateField(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				if api.IsNotFound(err) {
					return fmt.Errorf("item %q not found", args[0])
				}
				return err
			}
			printItem(cmd, item)
			return nil
		},
	}
}

func newReprocessCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <id>",
		Short: "Run transcription and extraction again for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			item, err := client.Reprocess(cmd.Context(), args[0])
			if err != nil {
				if api.IsNotFound(err) {
					return fmt.Errorf("item %q not found", args[0])
				}
				if api.IsConflict(err) {
					return fmt.Errorf("item %q is already being processed", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reprocessing %s (status %s)\n", item.ID, item.Status)
			return nil
		},
	}
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove an item and its stored audio",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.Remove(cmd.Context(), args[0]); err != nil {
				if api.IsNotFound(err) {
					return fmt.Errorf("item %q not found", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}
