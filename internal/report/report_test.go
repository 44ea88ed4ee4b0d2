package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/uiscenario/internal/errs"
	"github.com/kuitang/uiscenario/internal/runner"
	"github.com/kuitang/uiscenario/internal/scenario"
)

func sampleResults() []runner.Result {
	return []runner.Result{
		{
			RunID: "r1", ScenarioID: "TC001_login",
			Outcome: scenario.Passed, ExpectedOutcome: scenario.Passed,
			StepIndex: -1, Elapsed: 1200 * time.Millisecond,
			LastURL: "http://localhost:3000/dashboard", LastTitle: "Painel",
		},
		{
			RunID: "r2", ScenarioID: "TC003_new_record",
			Outcome: scenario.Failed, ExpectedOutcome: scenario.Passed,
			Code: errs.Assertion, Message: `text "Registro salvo" never became visible`,
			StepIndex: 12, Step: `wait for text "Registro salvo"`,
			Expected: "Registro salvo", Actual: "Campo obrigatório",
			Elapsed: 4 * time.Second, LastURL: "http://localhost:3000/registros/novo",
			ContentPreview: "Novo Registro\nCampo obrigatório",
		},
	}
}

func TestWriteText_ListsDiagnosticsAndSummary(t *testing.T) {
	t.Parallel()
	rep := New("smoke", sampleResults(), time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC))
	rep.Link("r2", "https://artifacts.test/runs/r2/TC003_new_record/")

	var b bytes.Buffer
	require.NoError(t, rep.WriteText(&b))
	out := b.String()

	assert.Contains(t, out, "PASSED TC001_login (1.2s)")
	assert.Contains(t, out, "FAILED TC003_new_record (4s) expected passed")
	assert.Contains(t, out, "[step 12: wait for text \"Registro salvo\"]")
	assert.Contains(t, out, `at http://localhost:3000/dashboard ("Painel")`)
	assert.Contains(t, out, "artifacts: https://artifacts.test/runs/r2/TC003_new_record/")
	assert.Contains(t, out, "2 scenarios: 1 passed, 1 failed, 0 errored, 1 unexpected")
}

func TestMarkdown_DetailsOnlyForUnexpectedOutcomes(t *testing.T) {
	t.Parallel()
	md := string(New("smoke", sampleResults(), time.Now()).Markdown())

	assert.Contains(t, md, "# Scenario report: smoke")
	assert.Contains(t, md, "| TC001\\_login | passed | passed |")
	assert.Contains(t, md, "**failed**")
	assert.Contains(t, md, "## TC003\\_new\\_record")
	assert.NotContains(t, md, "## TC001")
	assert.Contains(t, md, "- Expected: Registro salvo")
}

func TestHTML_IsSanitized(t *testing.T) {
	t.Parallel()
	results := sampleResults()
	results[1].Message = `<script>alert("x")</script> boom`
	results[1].ContentPreview = `<img src=x onerror=alert(1)>`

	out, err := New("smoke", results, time.Now()).HTML()
	require.NoError(t, err)
	page := string(out)

	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "TC003_new_record")
	assert.NotContains(t, page, "<script>")
	assert.NotContains(t, page, "<img")
}

func TestRender_Formats(t *testing.T) {
	t.Parallel()
	rep := New("smoke", sampleResults(), time.Now())
	for format, ext := range map[string]string{"text": "txt", "json": "json", "markdown": "md", "html": "html"} {
		body, gotExt, err := rep.Render(format)
		require.NoError(t, err, format)
		assert.Equal(t, ext, gotExt)
		assert.NotEmpty(t, body)
	}
	_, _, err := rep.Render("pdf")
	assert.Error(t, err)

	body, _, err := rep.Render("json")
	require.NoError(t, err)
	var decoded struct {
		Summary runner.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, 1, decoded.Summary.Mismatched)
}

func testMDEscape_KeepsTableCellsIntact(t *rapid.T) {
	s := rapid.String().Draw(t, "cell")
	escaped := mdEscape(s)
	if strings.ContainsAny(escaped, "\n<>") {
		t.Fatalf("escaped cell %q still breaks a row", escaped)
	}
	for i := 0; i < len(escaped); i++ {
		if escaped[i] == '|' && (i == 0 || escaped[i-1] != '\\') {
			t.Fatalf("unescaped pipe in %q", escaped)
		}
	}
}

func TestMDEscape_KeepsTableCellsIntact(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testMDEscape_KeepsTableCellsIntact)
}
