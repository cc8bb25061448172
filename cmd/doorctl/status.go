package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDoorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doors",
		Short: "List registered doors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			doors, err := client.Doors(ctx)
			if err != nil {
				return fmt.Errorf("failed to list doors: %w", err)
			}
			if len(doors) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No doors registered")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DOOR\tORIGIN\tPENDING\tREQUESTS\tDELIVERIES\tLAST POLL")
			for _, d := range doors {
				lastPoll := "never"
				if !d.LastPolledAt.IsZero() {
					lastPoll = d.LastPolledAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(tw, "%d\t%s\t%t\t%d\t%d\t%s\n",
					d.Index, d.Origin, d.PendingOpen, d.OpenRequests, d.OpenDeliveries, lastPoll)
			}
			return tw.Flush()
		},
	}
}

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check hub health",
		Long:  "Check the health of the hub and its embedded frame buffer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checking health of %s...\n", hubURL)

			health, err := client.GetHealth(ctx)
			if err != nil {
				return fmt.Errorf("failed to check health: %w", err)
			}

			if health.Healthy {
				fmt.Fprintf(out, "✅ Hub is healthy!\n")
			} else {
				fmt.Fprintf(out, "❌ Hub is not healthy!\n")
			}
			fmt.Fprintf(out, "Doors: %d\n", health.Doors)
			fmt.Fprintf(out, "Event Subscribers: %d\n", health.EventSubscribers)

			ids := make([]int, 0, len(health.Frames))
			for id := range health.Frames {
				ids = append(ids, id)
			}
			sort.Ints(ids)
			for _, id := range ids {
				f := health.Frames[id]
				fmt.Fprintf(out, "Door %d frames: received=%d consumed=%d dropped=%d duplicates=%d pending=%t\n",
					id, f.Received, f.Consumed, f.Dropped, f.Duplicates, f.Pending)
			}
			return nil
		},
	}
}
