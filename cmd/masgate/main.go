package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("masgate failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "masgate",
		Short:         "Chat gateway for multi-agent serving endpoints",
		Long:          "Forwards agent output streams to chat clients while reconstructing supervisor/specialist handoff traces.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogging(os.Getenv("MASGATE_LOG_LEVEL"), os.Getenv("MASGATE_LOG_FORMAT"))
		},
	}

	root.AddCommand(newServeCmd(), newAgentsCmd(), newReplayCmd(), newTokenCmd())
	return root
}

// setupLogging configures the global zerolog logger. Unknown levels fall
// back to info; format "text" selects the console writer.
func setupLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
