package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/crawlkit/internal/log"
)

// NewRootCmd creates the root command for crawlkit.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawlkit",
		Short: "Multi-protocol crawler with resumable sessions",
		Long: `crawlkit crawls resources reachable over http(s), file, smb and s3 URLs.

Every crawl runs as a session: fetched resources are transformed by the
first matching rule and stored with the session id, and the URL frontier is
persisted so that an interrupted session can be resumed with --resume.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewSessionsCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// newLogger builds the redacting logger selected by the global flags. Logs
// go to stderr so that reports written to stdout stay parseable.
func newLogger(cmd *cobra.Command) *slog.Logger {
	jsonLogs, err := cmd.Flags().GetBool("log-json")
	if err != nil {
		jsonLogs = false
	}
	return log.New(cmd.ErrOrStderr(), log.Options{
		Verbose: getVerboseFlag(cmd),
		JSON:    jsonLogs,
	})
}
