package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/snarg/interview-kb/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var overrides config.Overrides

	root := &cobra.Command{
		Use:          "interview-kb",
		Short:        "Searchable knowledge base built from recorded interviews",
		Version:      version,
		SilenceUsage: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	f.StringVar(&overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL connection URL with pgvector")
	f.StringVar(&overrides.StorageDir, "storage-dir", "", "local artifact directory")
	f.StringVar(&overrides.CitationPolicy, "citation-policy", "", "unverified citations: drop or flag")

	serve := newServeCmd(&overrides)
	serve.Flags().StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address")
	serve.Flags().StringVar(&overrides.MQTTBrokerURL, "mqtt-broker", "", "MQTT broker URL")
	serve.Flags().StringVar(&overrides.ReviewWatchDir, "watch-dir", "", "directory watched for reviewed transcripts")

	root.AddCommand(
		serve,
		newProcessCmd(&overrides),
		newIngestCmd(&overrides),
		newReindexCmd(&overrides),
		newAskCmd(&overrides),
		newSearchCmd(&overrides),
		newResetSchemaCmd(&overrides),
		newCheckCmd(&overrides),
	)
	return root
}

// newLogger builds the process logger. The server logs JSON to stdout; the
// one-shot commands log human-readable lines to stderr so stdout stays free
// for results.
func newLogger(level string, console bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if console {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(lvl)
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
}
