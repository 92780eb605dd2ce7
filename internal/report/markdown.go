package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/crawlkit/internal/model"
)

// MarkdownWriter outputs the summary as GitHub flavored Markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs the summary in Markdown format.
func (w *MarkdownWriter) Write(s *Summary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, s)
	w.writeResults(md, s)
	w.writeBreakdown(md, "Mime Types", "Mime Type", s.ByMimeType, false)
	w.writeBreakdown(md, "Status Codes", "Status", s.ByStatusCode, false)
	w.writeBreakdown(md, "Rules", "Rule", s.ByRule, true)
	w.writeBreakdown(md, "Errors", "Kind", s.ByErrorKind, true)
	w.writeBreakdown(md, "Depth", "Depth", s.ByDepth, false)
	w.writeFailures(md, s)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, s *Summary) {
	sess := s.Session
	md.H1("crawlkit Session Report")
	md.PlainText("")

	rows := [][]string{
		{"Session", "`" + sess.SessionID + "`"},
		{"Status", statusText(sess.Status)},
	}
	if !sess.StartTime.IsZero() {
		rows = append(rows, []string{"Started", sess.StartTime.Format(timeLayout)})
	}
	if !sess.EndTime.IsZero() {
		rows = append(rows,
			[]string{"Finished", sess.EndTime.Format(timeLayout)},
			[]string{"Duration", sess.Duration().Round(time.Millisecond).String()},
		)
	}
	rows = append(rows,
		[]string{"Threads", strconv.Itoa(sess.NumOfThreads)},
		[]string{"Max Depth", limitText(int64(sess.MaxDepth), -1)},
		[]string{"Max Access", limitText(sess.MaxAccessCount, 0)},
	)
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

func statusText(s model.SessionStatus) string {
	switch s {
	case model.SessionDone:
		return "✅ Done"
	case model.SessionAborted:
		return "❌ Aborted"
	case model.SessionRunning:
		return "⏳ Running"
	default:
		return s.String()
	}
}

func (w *MarkdownWriter) writeResults(md *markdown.Markdown, s *Summary) {
	md.H2("Results")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Result", "Count"},
		Rows: [][]string{
			{"OK", strconv.FormatInt(s.OK, 10)},
			{"Failed", strconv.FormatInt(s.Failed, 10)},
			{"**Total**", "**" + strconv.FormatInt(s.Total, 10) + "**"},
			{"Success Rate", fmt.Sprintf("%.1f%%", s.SuccessRate())},
			{"Content Bytes", strconv.FormatInt(s.ContentBytes, 10)},
			{"Deepest Result", strconv.Itoa(s.MaxDepth)},
		},
	})
	md.PlainText("")

	if len(s.ByMimeType) > 0 {
		w.writePieChart(md, s)
	}
	w.writeAlert(md, s)
}

// writePieChart writes a mermaid pie chart of the mime type distribution.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, s *Summary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Mime Type Distribution"),
		piechart.WithShowData(true),
	)
	for _, c := range s.ByMimeType {
		chart.LabelAndIntValue(c.Key, uint64(c.Count)) //nolint:gosec // counts are never negative
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, s *Summary) {
	switch {
	case s.Session.Status == model.SessionAborted:
		md.Cautionf("The session was aborted after %d result(s); it can be resumed with --resume.", s.Total)
	case s.Failed > 0:
		md.Warningf("%d of %d fetch(es) failed.", s.Failed, s.Total)
	case s.Total == 0:
		md.Note("The session stored no results.")
	default:
		md.Tip("Every fetch succeeded.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeBreakdown(md *markdown.Markdown, title, column string, counts []Count, titled bool) {
	if len(counts) == 0 {
		return
	}
	md.H2(title)
	md.PlainText("")

	rows := make([][]string, len(counts))
	for i, c := range counts {
		key := c.Key
		if titled {
			key = label(key)
		}
		rows[i] = []string{key, strconv.FormatInt(c.Count, 10)}
	}
	md.Table(markdown.TableSet{
		Header: []string{column, "Count"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, s *Summary) {
	if len(s.Failures) == 0 {
		return
	}
	md.H2("Failures")
	md.PlainText("")

	rows := make([][]string, len(s.Failures))
	for i, f := range s.Failures {
		status := "-"
		if f.HTTPStatus != 0 {
			status = strconv.Itoa(f.HTTPStatus)
		}
		rows[i] = []string{label(f.Kind), status, truncateString(f.URL, 80)}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Kind", "Status", "URL"},
		Rows:   rows,
	})
	md.PlainText("")

	for _, f := range s.Failures {
		if f.Message != "" {
			md.Details(truncateString(f.URL, 80), f.Message)
		}
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [crawlkit](https://github.com/nao1215/crawlkit)*")
}
