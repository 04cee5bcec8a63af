package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "marketfan"
	version = "v1.2.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	// Local development convenience; absence of a .env file is fine.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment from .env")
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Real-time market data fan-out service",
		Version: version,
		Long: `marketfan aggregates crypto prices, global market metrics, sentiment and
stock index quotes from public APIs and fans them out to WebSocket
subscribers. Instances coordinate through Redis so exactly one fetches
upstream while the rest relay.`,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the fan-out server",
		Long:  "Starts the WebSocket server, joins leader election, and begins the periodic fetch loop",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "Path to YAML config file (optional)")
	serveCmd.Flags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")
	rootCmd.AddCommand(serveCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
