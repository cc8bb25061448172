package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/facegate/pkg/hubclient"
)

func newWatchCommand() *cobra.Command {
	var (
		doorID  int
		asJSON  bool
		maxSeen int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream hub events in real time",
		Long: `Stream hub events (registrations, relayed frames, open requests and
deliveries) as they happen. Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			out := cmd.OutOrStdout()
			filter := cmd.Flags().Changed("door")
			seen := 0

			err := client.Watch(ctx, func(ev hubclient.Event) error {
				if filter && ev.DoorID != doorID {
					return nil
				}
				seen++
				if asJSON {
					line, err := json.Marshal(ev)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(line))
				} else {
					printEvent(cmd, ev)
				}
				if maxSeen > 0 && seen >= maxSeen {
					cancel()
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("event stream failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&doorID, "door", 0, "Only show events for this door")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON lines")
	cmd.Flags().IntVar(&maxSeen, "count", 0, "Stop after this many events (0: until interrupted)")
	return cmd
}

func printEvent(cmd *cobra.Command, ev hubclient.Event) {
	line := fmt.Sprintf("%s  door %-3d %s", ev.At.Format("15:04:05.000"), ev.DoorID, ev.Type)
	if ev.Detail != "" {
		line += "  " + ev.Detail
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}
