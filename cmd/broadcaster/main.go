package main

import (
	"os"
	"strings"

	"github.com/dkeye/Broadcast/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "broadcaster",
	Short: "Broadcast a room to viewers over WebRTC",
	Long: `broadcaster joins a room on the signaling server as its broadcaster and
streams RTP fed to local UDP ports either directly to every viewer (mesh) or
through an SRS-compatible relay.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	rootCmd.AddCommand(liveCmd, statusCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("broadcaster failed")
		os.Exit(1)
	}
}

// setupLogging applies the log section once config is loaded.
func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if !cfg.Console {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
