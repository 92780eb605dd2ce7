package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/crawlkit/internal/config"
	"github.com/nao1215/crawlkit/internal/model"
	"github.com/nao1215/crawlkit/internal/store"
)

// NewSessionsCmd creates the sessions command and its subcommands.
func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and delete stored crawl sessions",
		Long: `Sessions operates on the sessions kept in the result store.

Examples:
  # List stored sessions, most recent first
  crawlkit sessions list

  # Print the report of a stored session as Markdown
  crawlkit sessions report docs --markdown -o docs.md

  # Delete a session with its results, queue and URL patterns
  crawlkit sessions delete docs

  # Delete everything
  crawlkit sessions delete --all`,
	}

	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsDeleteCmd())
	cmd.AddCommand(newSessionsReportCmd())

	return cmd
}

func newSessionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE:  runSessionsListCmd,
	}
	addStoreFlags(cmd)
	return cmd
}

func newSessionsDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [session-id...]",
		Short: "Delete stored sessions",
		Long: `Delete removes the results, queued URLs, URL patterns and the record of each
named session. Deleting a session that does not exist is not an error.`,
		RunE: runSessionsDeleteCmd,
	}
	cmd.Flags().Bool("all", false, "Delete every session")
	addStoreFlags(cmd)
	return cmd
}

func newSessionsReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <session-id>",
		Short: "Print the report of a stored session",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsReportCmd,
	}
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	addStoreFlags(cmd)
	return cmd
}

// openSessionStore opens the store selected by the configuration file and
// the store flags.
func openSessionStore(cmd *cobra.Command) (context.Context, store.Store, *config.Config, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.ValidateStore(); err != nil {
		return nil, nil, nil, fmt.Errorf("configuration error: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return ctx, s, cfg, nil
}

// runSessionsListCmd executes the sessions list command.
func runSessionsListCmd(cmd *cobra.Command, _ []string) error {
	ctx, s, _, err := openSessionStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	return printSessions(cmd.OutOrStdout(), sessions)
}

// printSessions writes the session table.
func printSessions(w io.Writer, sessions []*model.CrawlSession) error {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found in the store.")
		fmt.Fprintln(w, "\nUse 'crawlkit crawl <seed-url>' to start one.")
		return nil
	}

	fmt.Fprintf(w, "Sessions (%d):\n\n", len(sessions))
	fmt.Fprintf(w, "  %-36s  %-8s  %-19s  %10s  %s\n", "ID", "Status", "Started", "Results", "Duration")
	fmt.Fprintln(w, "  "+strings.Repeat("-", 92))
	for _, cs := range sessions {
		started := "-"
		if !cs.StartTime.IsZero() {
			started = cs.StartTime.Local().Format("2006-01-02 15:04:05")
		}
		duration := "-"
		if cs.Status.Terminal() {
			duration = cs.Duration().Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "  %-36s  %-8s  %-19s  %10d  %s\n",
			cs.SessionID, cs.Status, started, cs.AccessCount, duration)
	}
	fmt.Fprintln(w, "\nUse 'crawlkit sessions report <id>' to see the report of a session.")
	return nil
}

// runSessionsDeleteCmd executes the sessions delete command.
func runSessionsDeleteCmd(cmd *cobra.Command, args []string) error {
	all, err := cmd.Flags().GetBool("all")
	if err != nil {
		return err
	}
	if all == (len(args) > 0) {
		return errors.New("specify one or more session ids, or --all")
	}

	ctx, s, _, err := openSessionStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	if all {
		n, err := purgeAll(ctx, s)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted all sessions (%d results)\n", n)
		return nil
	}

	for _, id := range args {
		n, err := store.PurgeSession(ctx, s, id)
		if err != nil {
			return fmt.Errorf("failed to delete session %s: %w", id, err)
		}
		fmt.Fprintf(out, "Deleted session %s (%d results)\n", id, n)
	}
	return nil
}

// purgeAll removes every session from s, including queued URLs and results
// whose session record is missing.
func purgeAll(ctx context.Context, s store.Store) (int64, error) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	var total int64
	for _, cs := range sessions {
		n, err := store.PurgeSession(ctx, s, cs.SessionID)
		if err != nil {
			return total, fmt.Errorf("failed to delete session %s: %w", cs.SessionID, err)
		}
		total += n
	}
	if err := s.DeleteAllQueues(ctx); err != nil {
		return total, fmt.Errorf("failed to delete queues: %w", err)
	}
	n, err := s.DeleteAll(ctx)
	if err != nil {
		return total, fmt.Errorf("failed to delete results: %w", err)
	}
	return total + n, nil
}

// runSessionsReportCmd executes the sessions report command.
func runSessionsReportCmd(cmd *cobra.Command, args []string) error {
	ctx, s, cfg, err := openSessionStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.JSONReport, err = cmd.Flags().GetBool("json"); err != nil {
		return err
	}
	if cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown"); err != nil {
		return err
	}
	if cfg.ReportFile, err = cmd.Flags().GetString("output"); err != nil {
		return err
	}
	if cfg.JSONReport && cfg.MarkdownReport {
		return config.ErrConflictingReportFormats
	}
	cfg.Verbose = getVerboseFlag(cmd)

	cs, err := s.GetSession(ctx, args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", errSessionNotFound, args[0])
	}
	if err != nil {
		return err
	}

	out, closeOut, err := openOutput(cfg.ReportFile, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOut()

	return writeReport(ctx, s, cs, cfg, out)
}
