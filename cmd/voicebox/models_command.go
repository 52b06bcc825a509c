package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"voicebox/internal/api"
)

func newModelsCommand(ctx *commandContext) *cobra.Command {
	var primary string
	var fallback string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "Show or change the transcription model pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var models api.ModelsPayload
			if cmd.Flags().Changed("primary") || cmd.Flags().Changed("fallback") {
				current, err := client.Models(cmd.Context())
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("primary") {
					current.PrimaryModel = primary
				}
				if cmd.Flags().Changed("fallback") {
					current.FallbackModel = fallback
				}
				models, err = client.SetModels(cmd.Context(), current)
				if err != nil {
					return err
				}
			} else {
				models, err = client.Models(cmd.Context())
				if err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Primary:  %s\n", models.PrimaryModel)
			fmt.Fprintf(cmd.OutOrStdout(), "Fallback: %s\n", models.FallbackModel)
			return nil
		},
	}

	cmd.Flags().StringVar(&primary, "primary", "", "Primary Whisper model")
	cmd.Flags().StringVar(&fallback, "fallback", "", "Fallback Whisper model")
	return cmd
}
