// Package cli renders query results, batch summaries and clusters for the semcode commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/roojs/semantic-code-search/internal/cluster"
	"github.com/roojs/semantic-code-search/internal/models"
	"github.com/roojs/semantic-code-search/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text.
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
	// OutputMarkdown renders query hits with source context, for pasting into prompts.
	OutputMarkdown OutputFormat = "markdown"
)

// ParseFormat validates a --output value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputJSON, OutputMarkdown:
		return f, nil
	case "md":
		return OutputMarkdown, nil
	default:
		return "", fmt.Errorf("invalid output format %q (use text, json or markdown)", s)
	}
}

// ContextLines is the number of source lines shown around a markdown hit.
const ContextLines = 5

// WriteQueryResults writes query hits to w in the given format. Unknown formats are
// treated as text.
func WriteQueryResults(w io.Writer, resp *models.QueryResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, resp)
	case OutputMarkdown:
		_, err := io.WriteString(w, QueryMarkdown(resp, ContextLines))
		return err
	default:
		writeQueryText(w, resp)
		return nil
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeQueryText(w io.Writer, resp *models.QueryResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", len(resp.Hits), resp.QueryTime)
	src := newSourceCache()
	for i, hit := range resp.Hits {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", i+1, hit.Score)
		fmt.Fprintf(w, "%s:%d-%d\n", hit.Path, hit.StartLine+1, hit.EndLine+1)
		if text, ok := src.lines(hit.Path, hit.StartLine, hit.EndLine); ok {
			fmt.Fprintf(w, "\n%s\n", TruncateLines(text, 10))
		}
		fmt.Fprintln(w)
	}
}

// QueryMarkdown renders hits as markdown: a heading per result, the 1-indexed match
// location and a fenced block of window lines centred on the function's first line.
// When the source cannot be read the block holds just the location.
func QueryMarkdown(resp *models.QueryResponse, window int) string {
	var b strings.Builder
	b.WriteString("# Search Results\n\n")
	src := newSourceCache()
	before := (window - 1) / 2
	for i, hit := range resp.Hits {
		line := hit.StartLine + 1
		fmt.Fprintf(&b, "## Result %d (score: %.3f)\n", i+1, hit.Score)
		fmt.Fprintf(&b, "**File:** `%s:%d`\n\n", hit.Path, line)

		start := hit.StartLine - before
		if start < 0 {
			start = 0
		}
		text, ok := src.lines(hit.Path, start, start+window-1)
		end := start + strings.Count(text, "\n")
		if !ok {
			text = fmt.Sprintf("# Could not read file: %s", hit.Path)
			start, end = hit.StartLine, hit.StartLine
		}
		fmt.Fprintf(&b, "```%s:%d:%d\n", Language(hit.Path), start+1, end+1)
		b.WriteString(strings.TrimRight(text, " \t\n"))
		b.WriteString("\n```\n\n")
	}
	return b.String()
}

// Language returns the fenced-code language for a path's extension, or "".
func Language(path string) string {
	switch models.LowerExt(path) {
	case ".py":
		return "python"
	case ".js":
		return "javascript"
	case ".ts":
		return "typescript"
	case ".go":
		return "go"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	case ".rb":
		return "ruby"
	case ".php":
		return "php"
	case ".c", ".h":
		return "c"
	case ".cpp", ".hpp":
		return "cpp"
	case ".kt", ".kts", ".ktm":
		return "kotlin"
	case ".vala", ".vapi":
		return "vala"
	default:
		return ""
	}
}

// WriteBatchSummary writes the outcome of an embed or index run.
func WriteBatchSummary(w io.Writer, s *models.BatchSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "Run %s: %d added, %d updated, %d skipped, %d failed\n", s.RunID, s.Added, s.Updated, s.Skipped, s.Failed)
	for _, r := range s.Results {
		if r.Status != models.SyncFailed {
			continue
		}
		fmt.Fprintf(w, "  failed  %s (%s): %s\n", r.Path, r.Reason, r.Error)
	}
	if s.Fatal != "" {
		fmt.Fprintf(w, "aborted: %s\n", s.Fatal)
	}
	return nil
}

// WriteReconcileReport writes what reconciliation repaired.
func WriteReconcileReport(w io.Writer, r *models.ReconcileReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	if !r.Changed() {
		fmt.Fprintln(w, "Index consistent, nothing to repair")
		return nil
	}
	fmt.Fprintf(w, "Evicted %d orphan vectors\n", r.OrphanVectors)
	for _, group := range []struct {
		label string
		paths []string
	}{
		{"missing file", r.MissingFiles},
		{"dangling record", r.DanglingFiles},
		{"corrupt record", r.CorruptRecords},
	} {
		for _, p := range group.paths {
			fmt.Fprintf(w, "  removed %s: %s\n", group.label, p)
		}
	}
	return nil
}

// WriteStats writes index statistics.
func WriteStats(w io.Writer, s *models.Stats, mismatch error, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintln(w, "Index")
	fmt.Fprintf(w, "  Files:          %d\n", s.Files)
	fmt.Fprintf(w, "  Vectors:        %d (%s)\n", s.Vectors, s.IndexType)
	fmt.Fprintf(w, "  Next vector ID: %d\n", s.NextVectorID)
	fmt.Fprintf(w, "  Model:          %s (%d dimensions)\n", s.ModelName, s.Dimensions)
	fmt.Fprintf(w, "  Storage:        %s, %s, schema v%d\n", s.Backend, FormatBytes(s.DiskUsage), s.SchemaVersion)
	if mismatch != nil {
		fmt.Fprintf(w, "  Warning:        %v\n", mismatch)
	}
	return nil
}

// WriteClusters writes near-duplicate groups with the source of each function.
func WriteClusters(w io.Writer, clusters []cluster.Cluster, format OutputFormat) error {
	if format == OutputJSON {
		type member struct {
			Path      string `json:"path"`
			StartLine int    `json:"start_line"`
			EndLine   int    `json:"end_line"`
			VectorID  uint64 `json:"vector_id"`
		}
		type group struct {
			AvgDistance float64  `json:"avg_distance"`
			Functions   []member `json:"functions"`
		}
		out := make([]group, len(clusters))
		for i, c := range clusters {
			out[i].AvgDistance = c.AvgDistance
			for _, it := range c.Items {
				out[i].Functions = append(out[i].Functions, member{it.Path, it.StartLine, it.EndLine, it.ID})
			}
		}
		return writeJSON(w, out)
	}
	src := newSourceCache()
	for i, c := range clusters {
		fmt.Fprintf(w, "Cluster #%d: avg_distance: %.3f ================================================\n\n", i, c.AvgDistance)
		for _, it := range c.Items {
			fmt.Fprintf(w, "    %s:%d\n", it.Path, it.StartLine+1)
			text, ok := src.lines(it.Path, it.StartLine, it.EndLine)
			if !ok {
				text = "# Could not read file: " + it.Path
			}
			fmt.Fprintf(w, "%s\n\n", indent(TruncateLines(text, 50), "    "))
		}
	}
	return nil
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}

// TruncateLines keeps the first maxLines lines of s, marking the cut with "...".
func TruncateLines(s string, maxLines int) string {
	lines := strings.Split(s, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return s
	}
	return strings.Join(lines[:maxLines], "\n") + "\n..."
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// sourceCache reads each source file once per render.
type sourceCache map[string]*string

func newSourceCache() sourceCache { return make(sourceCache) }

// lines returns lines [start, end] (0-indexed, inclusive, clamped) of path.
func (c sourceCache) lines(path string, start, end int) (string, bool) {
	text, ok := c[path]
	if !ok {
		if data, err := os.ReadFile(path); err == nil {
			s := strings.TrimRight(string(data), "\n")
			text = &s
		}
		c[path] = text
	}
	if text == nil {
		return "", false
	}
	return utils.LineSlice(*text, start, end)
}
