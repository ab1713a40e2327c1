package batch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RenderJSON pretty-prints a Result as indented JSON.
func RenderJSON(r *Result) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// RenderMarkdown renders a Result as a summary line followed by a table of
// per-file outcomes, sorted by name for stable output.
func RenderMarkdown(r *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Batch result\n\n")
	fmt.Fprintf(&b, "- total: %d\n- successful: %d\n- failed: %d\n- duration: %s\n\n",
		r.Total, r.Successful, r.Failed, r.Duration)

	names := make([]string, 0, len(r.Results))
	for name := range r.Results {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteString("| file | status | detail |\n")
	b.WriteString("|---|---|---|\n")
	for _, name := range names {
		item := r.Results[name]
		detail := item.Error
		if detail == "" && item.Content != nil {
			detail = fmt.Sprintf("%v", item.Content)
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", escapeMarkdownCell(name), item.Status, escapeMarkdownCell(detail))
	}
	return b.String()
}

func escapeMarkdownCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
