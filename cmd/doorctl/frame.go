package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/facegate/internal/framesource"
	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
)

func newEncodeCommand() *cobra.Command {
	var (
		capture   string
		frame     int
		downscale int
		output    string
	)

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a frame from a capture file",
		Long: `Encode one frame of a capture file as a relay payload. The output can be
relayed with 'doorctl relay', used as a gallery reference photo, or as the
visitor of a synthetic door node.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(capture)
			if err != nil {
				return fmt.Errorf("failed to open capture: %w", err)
			}
			replay, err := framesource.NewReplay(f, framesource.ReplayConfig{}, nil)
			if err != nil {
				f.Close()
				return err
			}
			defer replay.Close()

			var grid framecodec.Grid
			for i := 0; i <= frame; i++ {
				grid, err = replay.Next(cmd.Context())
				if errors.Is(err, framesource.ErrExhausted) {
					return fmt.Errorf("capture has only %d frames", i)
				}
				if err != nil {
					return err
				}
			}

			payload := framecodec.Encode(framecodec.Downscale(grid, downscale))
			return writeOutput(cmd, output, payload+"\n")
		},
	}

	cmd.Flags().StringVar(&capture, "capture", "", "Capture file to read (required)")
	cmd.Flags().IntVar(&frame, "frame", 0, "Zero-based frame number")
	cmd.Flags().IntVar(&downscale, "downscale", 1, "Downscale factor applied before encoding")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file")
	if err := cmd.MarkFlagRequired("capture"); err != nil {
		panic(fmt.Sprintf("Failed to mark capture as required: %v", err))
	}
	return cmd
}

func newDecodeCommand() *cobra.Command {
	var (
		file    string
		capture string
	)

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Check an encoded frame and optionally save it as a capture",
		Long: `Decode a relay payload and report its shape. With --capture the frame is
written to a one-frame capture file that a door node can replay.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, file)
			if err != nil {
				return err
			}
			grid, err := framecodec.Decode(payload)
			if err != nil {
				return err
			}

			rows, cols := grid.Dims()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Rows: %d\n", rows)
			fmt.Fprintf(out, "Cols: %d\n", cols)
			fmt.Fprintf(out, "Rectangular: %t\n", grid.Uniform())

			if capture == "" {
				return nil
			}
			if !grid.Uniform() {
				return errors.New("only rectangular frames can be saved as a capture")
			}
			f, err := os.Create(capture)
			if err != nil {
				return fmt.Errorf("failed to create capture: %w", err)
			}
			defer f.Close()
			rec, err := framesource.NewRecorder(f, nil)
			if err != nil {
				return err
			}
			if err := rec.Record(grid); err != nil {
				return err
			}
			if err := rec.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "Saved to %s\n", capture)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "-", "File holding the encoded frame")
	cmd.Flags().StringVar(&capture, "capture", "", "Write the frame to this capture file")
	return cmd
}

func writeOutput(cmd *cobra.Command, path, data string) error {
	if path == "-" {
		_, err := io.WriteString(cmd.OutOrStdout(), data)
		return err
	}
	return os.WriteFile(path, []byte(data), 0o644)
}
