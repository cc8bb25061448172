package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
)

func newRegisterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register as a new door and print the assigned identity",
		Long: `Register as a new door. The hub assigns the next identity; identities
are never reused, so every call adds a door to the registry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			index, err := client.Register(ctx)
			if err != nil {
				return fmt.Errorf("failed to register: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Registered as door %d\n", index)
			return nil
		},
	}
}

func newPollCommand() *cobra.Command {
	var doorID int

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Ask whether a door should open",
		Long: `Ask whether a door should open. A pending open signal is consumed by
this call, exactly as if the door itself had polled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			open, err := client.ShouldOpen(ctx, doorID)
			if err != nil {
				return fmt.Errorf("failed to poll: %w", err)
			}
			if open {
				fmt.Fprintf(cmd.OutOrStdout(), "🚪 Door %d should open\n", doorID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Door %d: no open signal\n", doorID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&doorID, "door", 0, "Door identity (required)")
	if err := cmd.MarkFlagRequired("door"); err != nil {
		panic(fmt.Sprintf("Failed to mark door as required: %v", err))
	}
	return cmd
}

func newRelayCommand() *cobra.Command {
	var (
		doorID int
		file   string
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay an encoded frame on behalf of a door",
		Long: `Relay an encoded frame on behalf of a door. The payload is read from
--file, or from stdin when --file is "-". The call returns once the hub has
run recognition on the frame.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, file)
			if err != nil {
				return err
			}
			if _, err := framecodec.Decode(payload); err != nil {
				return fmt.Errorf("refusing to relay: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := client.RelayFrame(ctx, doorID, payload); err != nil {
				return fmt.Errorf("failed to relay frame: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Frame relayed for door %d\n", doorID)
			return nil
		},
	}

	cmd.Flags().IntVar(&doorID, "door", 0, "Door identity (required)")
	cmd.Flags().StringVar(&file, "file", "-", "File holding the encoded frame")
	if err := cmd.MarkFlagRequired("door"); err != nil {
		panic(fmt.Sprintf("Failed to mark door as required: %v", err))
	}
	return cmd
}

// readPayload reads an encoded frame from path, or stdin for "-".
func readPayload(cmd *cobra.Command, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read payload: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
