package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/masgate/internal/stream"
)

func newReplayCmd() *cobra.Command {
	var clientRequestID string

	cmd := &cobra.Command{
		Use:   "replay <capture.sse>",
		Short: "Run a captured upstream stream through the trace relay",
		Long: "Reads a captured SSE body from a file (or - for stdin), writes the frames a client would " +
			"have received to stdout and logs the reconstructed trace.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open capture: %w", err)
				}
				defer f.Close()
				src = f
			}

			if clientRequestID == "" {
				clientRequestID = uuid.NewString()
			}

			out := cmd.OutOrStdout()
			res, err := stream.NewRelay(clientRequestID).Run(cmd.Context(), src, stream.SinkFunc(func(frame []byte) error {
				_, writeErr := out.Write(frame)
				return writeErr
			}))
			if err != nil {
				return err
			}

			evt := log.Info().
				Str("client_request_id", res.ClientRequestID).
				Bool("terminated", res.Terminated).
				Int("forwarded", res.Forwarded).
				Int("skipped", res.Skipped).
				Str("supervisor", res.Supervisor)
			if res.Summary != nil {
				evt = evt.Int("handoffs", res.Summary.TotalHandoffs)
			}
			evt.Msg("replay finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&clientRequestID, "client-request-id", "", "Correlation id for the emitted frames (default: random UUID)")
	return cmd
}
