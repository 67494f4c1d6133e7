// Package report writes scan results.
//
// Writers for each output format implement the Writer interface:
//   - SimpleWriter: plain text for the terminal
//   - JSONWriter and FullJSONWriter: JSON for other tools
//   - MarkdownWriter: Markdown with a mermaid status chart
//
// Writers never alter the scan they are given, so a partial result from an
// aborted scan is written exactly as it was gathered.
package report
