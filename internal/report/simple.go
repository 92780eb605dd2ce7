package report

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// SimpleWriter outputs a plain text report for the terminal.
type SimpleWriter struct {
	baseWriter

	// verbose adds failure messages.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables failure messages in the output.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the summary in plain text.
func (w *SimpleWriter) Write(s *Summary) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, s)
	w.writeTotals(&sb, s)
	w.writeBreakdown(&sb, "MIME TYPES", s.ByMimeType, false)
	w.writeBreakdown(&sb, "STATUS CODES", s.ByStatusCode, false)
	w.writeBreakdown(&sb, "RULES", s.ByRule, true)
	w.writeBreakdown(&sb, "ERRORS", s.ByErrorKind, true)
	w.writeBreakdown(&sb, "DEPTH", s.ByDepth, false)
	w.writeFailures(&sb, s)
	w.writeFooter(&sb)

	return io.WriteString(w.output, sb.String())
}

func section(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, s *Summary) {
	sess := s.Session
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                      CRAWLKIT SESSION REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Session:        %s\n", sess.SessionID)
	fmt.Fprintf(sb, "Status:         %s\n", sess.Status)
	if !sess.StartTime.IsZero() {
		fmt.Fprintf(sb, "Started:        %s\n", sess.StartTime.Format(timeLayout))
	}
	if !sess.EndTime.IsZero() {
		fmt.Fprintf(sb, "Finished:       %s\n", sess.EndTime.Format(timeLayout))
		fmt.Fprintf(sb, "Duration:       %s\n", sess.Duration().Round(time.Millisecond))
	}
	fmt.Fprintf(sb, "Threads:        %d\n", sess.NumOfThreads)
	fmt.Fprintf(sb, "Max Depth:      %s\n", limitText(int64(sess.MaxDepth), -1))
	fmt.Fprintf(sb, "Max Access:     %s\n", limitText(sess.MaxAccessCount, 0))
	sb.WriteString("\n")
}

// limitText renders a limit, printing "unlimited" for the disabled value.
func limitText(n, disabled int64) string {
	if n == disabled || (disabled == -1 && n < 0) {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}

func (w *SimpleWriter) writeTotals(sb *strings.Builder, s *Summary) {
	section(sb, "RESULTS")
	fmt.Fprintf(sb, "  TOTAL:    %d\n", s.Total)
	fmt.Fprintf(sb, "  OK:       %d\n", s.OK)
	fmt.Fprintf(sb, "  FAILED:   %d\n", s.Failed)
	fmt.Fprintf(sb, "  SUCCESS:  %.1f%%\n", s.SuccessRate())
	fmt.Fprintf(sb, "  BYTES:    %d\n", s.ContentBytes)
	fmt.Fprintf(sb, "  DEPTH:    %d\n", s.MaxDepth)
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeBreakdown(sb *strings.Builder, title string, counts []Count, titled bool) {
	if len(counts) == 0 {
		return
	}
	section(sb, title)
	for _, c := range counts {
		key := c.Key
		if titled {
			key = label(key)
		}
		fmt.Fprintf(sb, "  %-40s %8d\n", key, c.Count)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFailures(sb *strings.Builder, s *Summary) {
	if len(s.Failures) == 0 {
		return
	}
	section(sb, "FAILURES")
	for _, f := range s.Failures {
		fmt.Fprintf(sb, "  [%s] %s\n", label(f.Kind), f.URL)
		if w.verbose && f.Message != "" {
			fmt.Fprintf(sb, "    %s\n", f.Message)
		}
	}
	if s.Failed > int64(len(s.Failures)) {
		fmt.Fprintf(sb, "  ... and %d more\n", s.Failed-int64(len(s.Failures)))
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Report generated by crawlkit\n")
	sb.WriteString("https://github.com/nao1215/crawlkit\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
