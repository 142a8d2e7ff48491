package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Format is a report serialization.
type Format string

const (
	FormatJSON     Format = "json"
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// FormatFor picks the format from the file extension, defaulting to JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".log":
		return FormatText
	case ".md", ".markdown":
		return FormatMarkdown
	case ".html", ".htm":
		return FormatHTML
	default:
		return FormatJSON
	}
}

// Persist writes the report atomically to path in the format implied by its extension.
func (r *BuildReport) Persist(path string) error {
	var buf bytes.Buffer
	if err := r.Render(&buf, FormatFor(path)); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("ensure report directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write temp report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("atomic rename report: %w", err)
	}
	return nil
}

// Render writes the report to w in format f.
func (r *BuildReport) Render(w io.Writer, f Format) error {
	switch f {
	case FormatText:
		_, err := io.WriteString(w, r.text())
		return err
	case FormatMarkdown:
		_, err := io.WriteString(w, r.Markdown())
		return err
	case FormatHTML:
		return r.renderHTML(w)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("marshal report json: %w", err)
		}
		return nil
	}
}

// StatusLabel turns a status such as cache_hit into "Cache Hit".
func StatusLabel(status string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(status, "_", " "))
}

func (r *BuildReport) text() string {
	var b strings.Builder
	b.WriteString(r.Summary())
	b.WriteString("\n")
	for _, t := range r.Targets {
		fmt.Fprintf(&b, "%-12s %s", t.Status, t.Target)
		if t.Error != "" {
			fmt.Fprintf(&b, "  %s", firstLine(t.Error))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Markdown renders the report as a Markdown document with a target table.
func (r *BuildReport) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Build %s\n\n", r.BuildID)
	fmt.Fprintf(&b, "- **Outcome:** %s\n", StatusLabel(string(r.Outcome)))
	fmt.Fprintf(&b, "- **Exit code:** %d\n", r.ExitCode)
	fmt.Fprintf(&b, "- **Duration:** %s\n", r.Duration().Truncate(time.Millisecond))
	if r.SourceRevision != "" {
		fmt.Fprintf(&b, "- **Revision:** `%s`\n", r.SourceRevision)
	}
	fmt.Fprintf(&b, "- **Version:** %s\n\n", r.Version)

	if len(r.Targets) == 0 {
		b.WriteString("No targets were requested.\n")
		return b.String()
	}

	b.WriteString("| Target | Status | Duration (ms) | Error |\n")
	b.WriteString("|---|---|---:|---|\n")
	for _, t := range r.Targets {
		fmt.Fprintf(&b, "| `%s` | %s | %.1f | %s |\n",
			t.Target, StatusLabel(t.Status), t.DurationMS, cell(firstLine(t.Error)))
	}
	return b.String()
}

func (r *BuildReport) renderHTML(w io.Writer) error {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert([]byte(r.Markdown()), &body); err != nil {
		return fmt.Errorf("render report html: %w", err)
	}
	_, err := fmt.Fprintf(w, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>Build %s</title>\n</head>\n<body>\n%s</body>\n</html>\n",
		html.EscapeString(r.BuildID), body.String())
	return err
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
