// Package report summarizes a crawl session and writes the summary.
//
// Summarize walks the stored results of a session once and aggregates them
// into a Summary. Writers render a Summary:
//   - SimpleWriter: plain text for the terminal
//   - JSONWriter: structured JSON for tools
//   - MarkdownWriter: GitHub flavored Markdown with tables and a mermaid pie
//     chart
package report
