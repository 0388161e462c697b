// Package cmd provides CLI commands for docsrag.
//
// Commands:
//   - serve: HTTP API server with SSE streaming
//   - ingest: chunk, embed and index the documentation corpus
//   - version: print build information
//
// Signal handling and graceful shutdown are implemented via context
// cancellation.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/docsrag/docsrag/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "docsrag",
	Short: "docsrag - documentation question answering over a local corpus",
	Long: `docsrag indexes a directory of markdown documentation into a vector
store and answers questions about it with citations, grounded in the
retrieved chunks.

Run "docsrag ingest" to build the index, then "docsrag serve" to expose
the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is the single entry point called
// from main.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger. Level comes from LOG_LEVEL
// (debug, info, warn, error); LOG_FORMAT=json selects JSON output.
// Logs go to stderr so stdout stays clean for command output.
func newLogger() log.Logger {
	logger := log.New(log.Config{
		Level: log.ParseLevel(os.Getenv("LOG_LEVEL")),
		JSON:  os.Getenv("LOG_FORMAT") == "json",
	})
	slog.SetDefault(logger)
	return logger
}
