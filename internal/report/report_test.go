package report

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"git.home.luguber.info/inful/rulebuilder/internal/buildfile"
	"git.home.luguber.info/inful/rulebuilder/internal/engine"
	"git.home.luguber.info/inful/rulebuilder/internal/target"
)

func sampleReport(t *testing.T) *BuildReport {
	t.Helper()
	r := New("build-1")
	r.SourceRevision = "0123abcd"
	r.Add(engine.Outcome{
		Target:   target.New("a", "ok"),
		Kind:     buildfile.KindGenrule,
		Status:   engine.StatusBuilt,
		RuleKey:  "k1",
		Duration: 1500 * time.Microsecond,
		Attempts: 1,
	})
	r.Add(engine.Outcome{
		Target: target.New("b", "bad"),
		Kind:   buildfile.KindGenrule,
		Status: engine.StatusFailed,
		Err:    errors.New("exit status 1 | broken\nmore output"),
	})
	r.Add(engine.Outcome{Target: target.New("c", "hit"), Status: engine.StatusCacheHit})
	r.Finish(1)
	return r
}

func TestBuildReport_Counts(t *testing.T) {
	r := sampleReport(t)
	assert.Equal(t, Counts{Built: 1, CacheHit: 1, Failed: 1}, r.Counts)
	assert.Equal(t, 3, r.Counts.Total())
	assert.Equal(t, map[string]int{"built": 1, "cache_hit": 1, "failed": 1}, r.Counts.Map())
	assert.Equal(t, OutcomeFailed, r.Outcome)
	assert.Contains(t, r.Summary(), "targets=3 built=1 cache_hit=1")
}

func TestPersist_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.json")
	r := sampleReport(t)
	require.NoError(t, r.Persist(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded BuildReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "build-1", decoded.BuildID)
	assert.Equal(t, 1, decoded.ExitCode)
	require.Len(t, decoded.Targets, 3)
	assert.Equal(t, "//a:ok", decoded.Targets[0].Target)
	assert.InDelta(t, 1.5, decoded.Targets[0].DurationMS, 0.001)
	assert.Equal(t, "//b:bad", decoded.Targets[1].Target)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestPersist_EmptyReportIsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report")
	r := New("empty")
	r.Finish(0)
	require.NoError(t, r.Persist(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []any{}, decoded["targets"])
	assert.Equal(t, "success", decoded["outcome"])
}

func TestPersist_Text(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, sampleReport(t).Persist(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], "//b:bad")
	assert.NotContains(t, string(data), "more output")
}

func TestMarkdown(t *testing.T) {
	md := sampleReport(t).Markdown()
	assert.Contains(t, md, "# Build build-1")
	assert.Contains(t, md, "| `//c:hit` | Cache Hit |")
	assert.Contains(t, md, `exit status 1 \| broken`)
	assert.Contains(t, md, "`0123abcd`")
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "Dep Failed", StatusLabel("dep_failed"))
	assert.Equal(t, "Up To Date", StatusLabel("up_to_date"))
}

func TestPersist_HTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.html")
	require.NoError(t, sampleReport(t).Persist(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	doc, err := html.Parse(f)
	require.NoError(t, err)

	var title string
	var cells []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				title = text(n)
			case "td":
				cells = append(cells, text(n))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	assert.Equal(t, "Build build-1", title)
	require.Len(t, cells, 12)
	assert.Equal(t, "//a:ok", cells[0])
	assert.Equal(t, "Built", cells[1])
	assert.Equal(t, "Failed", cells[5])
	assert.Equal(t, "exit status 1 | broken", cells[7])
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatJSON, FormatFor("r.json"))
	assert.Equal(t, FormatJSON, FormatFor("r"))
	assert.Equal(t, FormatText, FormatFor("r.TXT"))
	assert.Equal(t, FormatMarkdown, FormatFor("r.md"))
	assert.Equal(t, FormatHTML, FormatFor("r.htm"))
}
