package main

import (
	"os"

	"github.com/benothman/xnio/benchmarks/internal/cli"
	"github.com/benothman/xnio/client"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "log-parser <file>",
	Short: "Appends the STATS block of a jio-client run log to the log itself",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := cli.SetupLogging(logLevel)
		if err != nil {
			return err
		}

		report, err := client.AppendReport(args[0])
		if err != nil {
			return err
		}
		logger.Info().Str("file", args[0]).Int("clients", report.Clients).Msg("report appended")

		_, err = report.WriteTo(os.Stdout)
		return err
	},
}

var logLevel string

func init() {
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("could not parse log")
	}
}
