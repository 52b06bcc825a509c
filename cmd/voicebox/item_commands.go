package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"voicebox/internal/api"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List voicemail items",
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
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No items.")
				return nil
			}

			headers := []string{"ID", "Received", "Caller", "Status", "Name", "Type", "Rating"}
			rows := make([][]string, 0, len(items))
			for _, item := range items {
				caller := item.Phone
				if caller == "" {
					caller = item.Sender
				}
				name := item.Fields.FirstName
				if item.Fields.LastName != "" {
					if name != "" {
						name += " "
					}
					name += item.Fields.LastName
				}
				rows = append(rows, []string{
					item.ID,
					item.ReceivedAt,
					caller,
					item.Status,
					name,
					item.Fields.RequestType,
					strconv.Itoa(item.Rating),
				})
			}
			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (received, transcribing, extracting, done, failed)")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show the full record of one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			item, err := client.GetItem(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printItem(cmd, item)
			return nil
		},
	}
}

func newTranscriptCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "transcript <id>",
		Short: "Print the transcript of one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			transcript, err := client.Transcript(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), transcript)
			return nil
		},
	}
}

func printItem(cmd *cobra.Command, item api.Item) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:             %s\n", item.ID)
	fmt.Fprintf(out, "Status:         %s\n", item.Status)
	if item.FailureReason != "" {
		fmt.Fprintf(out, "Failure:        %s (%s)\n", item.FailureReason, item.ErrorMessage)
	}
	fmt.Fprintf(out, "Sender:         %s\n", item.Sender)
	if item.Phone != "" {
		fmt.Fprintf(out, "Phone:          %s\n", item.Phone)
	}
	fmt.Fprintf(out, "Subject:        %s\n", item.Subject)
	fmt.Fprintf(out, "Received:       %s\n", item.ReceivedAt)
	if item.ModelUsed != "" {
		fmt.Fprintf(out, "Model:          %s (%.1fs)\n", item.ModelUsed, item.Duration)
	}
	fmt.Fprintf(out, "Rating:         %d\n", item.Rating)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Vorname:        %s\n", item.Fields.FirstName)
	fmt.Fprintf(out, "Nachname:       %s\n", item.Fields.LastName)
	fmt.Fprintf(out, "Geburtsdatum:   %s\n", item.Fields.Birthdate)
	fmt.Fprintf(out, "Anfragetyp:     %s\n", item.Fields.RequestType)
	fmt.Fprintf(out, "Medikament:     %s\n", item.Fields.Medication)
	fmt.Fprintf(out, "Dosis:          %s\n", item.Fields.Dosage)
	fmt.Fprintf(out, "Fachrichtung:   %s\n", item.Fields.Specialty)
	fmt.Fprintf(out, "Überweisung:    %s\n", item.Fields.ReferralReason)
	fmt.Fprintf(out, "Notiz:          %s\n", item.Fields.Note)
	if item.Transcript != "" {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Transkript:\n%s\n", item.Transcript)
	}
}
