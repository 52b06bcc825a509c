package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and item counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running:        %v (pid %d)\n", status.Running, status.PID)
			fmt.Fprintf(out, "Database:       %s\n", status.DBPath)
			fmt.Fprintf(out, "Lock file:      %s\n", status.LockFilePath)
			fmt.Fprintf(out, "Models:         %s (fallback %s)\n", status.PrimaryModel, status.FallbackModel)
			fmt.Fprintf(out, "Active items:   %d\n", status.ActiveItems)
			if status.LastPollAt != "" {
				fmt.Fprintf(out, "Last mail poll: %s\n", status.LastPollAt)
			}

			if len(status.ItemStats) > 0 {
				keys := make([]string, 0, len(status.ItemStats))
				for key := range status.ItemStats {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				fmt.Fprintln(out)
				for _, key := range keys {
					fmt.Fprintf(out, "%-14s %d\n", key+":", status.ItemStats[key])
				}
			}
			return nil
		},
	}
}
