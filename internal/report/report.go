// Package report renders suite results as plain text, Markdown, sanitized
// HTML or JSON.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/kuitang/uiscenario/internal/logutil"
	"github.com/kuitang/uiscenario/internal/runner"
)

const cellMax = 160

// Report is one suite's results ready for rendering.
type Report struct {
	Suite       string          `json:"suite"`
	GeneratedAt time.Time       `json:"generated_at"`
	Summary     runner.Summary  `json:"summary"`
	Results     []runner.Result `json:"results"`
	// Links maps a run ID to its uploaded artifacts.
	Links map[string]string `json:"links,omitempty"`
}

// New builds a report over results.
func New(suite string, results []runner.Result, generatedAt time.Time) *Report {
	return &Report{
		Suite:       suite,
		GeneratedAt: generatedAt.UTC(),
		Summary:     runner.Summarize(results),
		Results:     results,
		Links:       map[string]string{},
	}
}

// Link attaches an artifact URL to a run.
func (r *Report) Link(runID, url string) {
	r.Links[runID] = url
}

// WriteText writes the terminal report: one diagnostic block per scenario
// and a closing summary line.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder
	for _, res := range r.Results {
		b.WriteString(res.String())
		b.WriteByte('\n')
		if res.LastURL != "" || res.LastTitle != "" {
			fmt.Fprintf(&b, "    at %s (%q)\n", res.LastURL, res.LastTitle)
		}
		if res.Expected != "" || res.Actual != "" {
			fmt.Fprintf(&b, "    expected: %q\n    actual:   %q\n", res.Expected, logutil.TruncateForLog(res.Actual, cellMax))
		}
		if res.ReleaseError != "" {
			fmt.Fprintf(&b, "    release: %s\n", res.ReleaseError)
		}
		if url := r.Links[res.RunID]; url != "" {
			fmt.Fprintf(&b, "    artifacts: %s\n", url)
		}
	}
	s := r.Summary
	fmt.Fprintf(&b, "\n%d scenarios: %d passed, %d failed, %d errored, %d unexpected (%s)\n",
		s.Total, s.Passed, s.Failed, s.Errored, s.Mismatched, s.Elapsed.Round(time.Millisecond))
	_, err := io.WriteString(w, b.String())
	return err
}

// Markdown renders the report as GitHub-flavored Markdown.
func (r *Report) Markdown() []byte {
	var b bytes.Buffer
	title := "Scenario report"
	if r.Suite != "" {
		title += ": " + r.Suite
	}
	fmt.Fprintf(&b, "# %s\n\n", mdEscape(title))
	s := r.Summary
	fmt.Fprintf(&b, "Generated %s. **%d** scenarios, %d passed, %d failed, %d errored, **%d unexpected**.\n\n",
		r.GeneratedAt.Format(time.RFC3339), s.Total, s.Passed, s.Failed, s.Errored, s.Mismatched)

	b.WriteString("| Scenario | Outcome | Expected | Elapsed | Step | Message |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, res := range r.Results {
		outcome := string(res.Outcome)
		if !res.Matched() {
			outcome = "**" + outcome + "**"
		}
		step := ""
		if res.StepIndex >= 0 {
			step = fmt.Sprintf("%d: %s", res.StepIndex, res.Step)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			mdEscape(res.ScenarioID), outcome, res.ExpectedOutcome,
			res.Elapsed.Round(time.Millisecond), mdEscape(step), mdEscape(logutil.TruncateForLog(res.Message, cellMax)))
	}

	for _, res := range r.Results {
		if res.Matched() {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", mdEscape(res.ScenarioID))
		fmt.Fprintf(&b, "- Outcome: %s (expected %s)\n", res.Outcome, res.ExpectedOutcome)
		if res.Code != "" {
			fmt.Fprintf(&b, "- Code: `%s`\n", res.Code)
		}
		if res.LastURL != "" {
			fmt.Fprintf(&b, "- Last page: %s %s\n", mdEscape(res.LastURL), mdEscape(res.LastTitle))
		}
		if res.Expected != "" || res.Actual != "" {
			fmt.Fprintf(&b, "- Expected: %s\n- Actual: %s\n", mdEscape(res.Expected), mdEscape(logutil.TruncateForLog(res.Actual, cellMax)))
		}
		if url := r.Links[res.RunID]; url != "" {
			fmt.Fprintf(&b, "- Artifacts: [%s](%s)\n", mdEscape(res.RunID), url)
		}
		if res.ContentPreview != "" {
			fmt.Fprintf(&b, "\n```\n%s\n```\n", strings.ReplaceAll(res.ContentPreview, "```", "'''"))
		}
	}
	return b.Bytes()
}

var page = template.Must(template.New("report").Parse(`<!doctype html>
<html lang="en"><head><meta charset="utf-8"><title>{{.Title}}</title>
<style>body{font-family:system-ui,sans-serif;max-width:72rem;margin:2rem auto;padding:0 1rem}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.25rem .5rem;text-align:left}pre{background:#f6f6f6;padding:.5rem;overflow:auto}</style>
</head><body>
{{.Body}}
</body></html>
`))

// HTML renders the Markdown report to a standalone, sanitized HTML page.
func (r *Report) HTML() ([]byte, error) {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse(r.Markdown())

	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.HrefTargetBlank,
	})
	rendered := markdown.Render(doc, renderer)

	policy := bluemonday.UGCPolicy()
	policy.AllowElements("pre", "code")
	body := policy.SanitizeBytes(rendered)

	var out bytes.Buffer
	err := page.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{
		Title: "Scenario report " + r.Suite,
		Body:  template.HTML(body),
	})
	if err != nil {
		return nil, fmt.Errorf("report: render html: %w", err)
	}
	return out.Bytes(), nil
}

// JSON renders the report as indented JSON.
func (r *Report) JSON() ([]byte, error) {
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("report: encode json: %w", err)
	}
	return append(out, '\n'), nil
}

// Render produces the report in format ("text", "json", "markdown" or
// "html") and returns the body with its file extension.
func (r *Report) Render(format string) ([]byte, string, error) {
	switch format {
	case "", "text":
		var b bytes.Buffer
		err := r.WriteText(&b)
		return b.Bytes(), "txt", err
	case "json":
		out, err := r.JSON()
		return out, "json", err
	case "markdown", "md":
		return r.Markdown(), "md", nil
	case "html":
		out, err := r.HTML()
		return out, "html", err
	default:
		return nil, "", fmt.Errorf("report: unknown format %q", format)
	}
}

var mdReplacer = strings.NewReplacer(
	"|", `\|`,
	"\n", " ",
	"\r", "",
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"[", `\[`,
	"]", `\]`,
	"<", "&lt;",
	">", "&gt;",
)

func mdEscape(s string) string {
	return mdReplacer.Replace(s)
}
