package scenario

import (
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/uiscenario/internal/errs"
)

const loginYAML = `
id: TC001_login
description: login with valid credentials
tags: [auth, smoke]
steps:
  - navigate: /
  - fill: {selector: "xpath=html/body/div/form/div/input", value: "${EMAIL}"}
  - fill: {selector: "xpath=html/body/div/form/div[2]/div/input", value: "${PASSWORD}", secret: true}
  - click: {selector: "xpath=html/body/div/form/button", timeout: 5s}
  - wait_text: {text: "Bem-vindo ao Sistema de Registro", timeout: 10s}
  - assert: {kind: text_contains, selector: "text=Administrador", expected: "Administrador", message: "role badge shown"}
`

func mapLookup(vars map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func TestLoader_ParseExpandsInlineLocators(t *testing.T) {
	t.Parallel()
	l := &Loader{Lookup: mapLookup(map[string]string{"EMAIL": "a@b.com", "PASSWORD": "x"})}

	got, err := l.Parse("login.yaml", strings.NewReader(loginYAML))
	require.NoError(t, err)
	require.Len(t, got, 1)

	s := got[0]
	assert.Equal(t, "TC001_login", s.ID())
	assert.Equal(t, Passed, s.Expect())
	assert.True(t, s.HasTag("SMOKE"))

	kinds := make([]StepKind, 0, s.Len())
	for _, step := range s.Steps() {
		kinds = append(kinds, step.Kind)
	}
	assert.Equal(t, []StepKind{
		KindNavigate,
		KindLocate, KindFill,
		KindLocate, KindFill,
		KindLocate, KindClick,
		KindWaitText,
		KindAssert,
	}, kinds)

	assert.Equal(t, WaitCommit, s.Step(0).WaitUntil)
	assert.Equal(t, "a@b.com", s.Step(2).Value)
	assert.True(t, s.Step(4).Secret)
	assert.Equal(t, 5*time.Second, s.Step(6).Timeout)
	assert.Equal(t, 10*time.Second, s.Step(7).Timeout)
	assert.Equal(t, TextContains, s.Step(8).Predicate.Kind)
}

func TestLoader_ReportsUndefinedVariables(t *testing.T) {
	t.Parallel()
	l := &Loader{Lookup: mapLookup(nil)}

	_, err := l.Parse("login.yaml", strings.NewReader(loginYAML))
	require.Error(t, err)
	assert.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
	assert.Contains(t, err.Error(), "EMAIL, PASSWORD")
}

func TestLoader_MultiDocumentAndShorthand(t *testing.T) {
	t.Parallel()
	doc := `
id: one
steps:
  - navigate: http://localhost:3000/login
  - locate: "#email"
  - fill: "a@b.com"
  - click: "#submit"
---
id: two
expect: failed
steps:
  - navigate: {url: /, wait_until: domcontentloaded}
  - wait_state: {selector: "#map", state: visible}
`
	got, err := (&Loader{}).Parse("multi.yaml", strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 5, got[0].Len())
	assert.Equal(t, KindLocate, got[0].Step(3).Kind)
	assert.Equal(t, "#submit", got[0].Step(3).Selector)
	assert.Equal(t, Failed, got[1].Expect())
	assert.Equal(t, WaitDOMContentLoaded, got[1].Step(0).WaitUntil)
}

func TestLoader_RejectsMalformedSteps(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"two keys":      "id: x\nsteps:\n  - {navigate: /, click: '#a'}\n",
		"unknown kind":  "id: x\nsteps:\n  - hover: '#a'\n",
		"bad state":     "id: x\nsteps:\n  - wait_state: {selector: '#a', state: shiny}\n",
		"no id":         "steps:\n  - navigate: /\n",
		"no steps":      "id: x\n",
		"bad expect":    "id: x\nexpect: errored\nsteps:\n  - navigate: /\n",
		"assert scalar": "id: x\nsteps:\n  - assert: yes\n",
		"enabled bare":  "id: x\nsteps:\n  - assert: {kind: enabled}\n",
		"content bare":  "id: x\nsteps:\n  - assert: {kind: content_not_contains}\n",
		"far latitude":  "id: x\ngeolocation: {latitude: 91, longitude: 0}\nsteps:\n  - navigate: /\n",
		"blank grant":   "id: x\npermissions: ['']\nsteps:\n  - navigate: /\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := (&Loader{}).Parse(name, strings.NewReader(doc))
			require.Error(t, err)
			assert.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
		})
	}
}

func TestLoader_BrowserPermissionsAndNewPredicates(t *testing.T) {
	t.Parallel()
	doc := `
id: geo
permissions: [geolocation]
geolocation: {latitude: -22.9068, longitude: -43.1729}
steps:
  - navigate: /
  - assert: {kind: enabled, selector: "nav button"}
  - assert: {kind: content_not_contains, expected: "<script>alert"}
`
	got, err := (&Loader{}).Parse("geo.yaml", strings.NewReader(doc))
	require.NoError(t, err)
	s := got[0]

	assert.Equal(t, []string{"geolocation"}, s.Permissions())
	g, ok := s.Geolocation()
	require.True(t, ok)
	assert.Equal(t, Geolocation{Latitude: -22.9068, Longitude: -43.1729}, g)
	assert.Equal(t, Enabled, s.Step(1).Predicate.Kind)
	assert.Equal(t, ContentNotContains, s.Step(2).Predicate.Kind)
	assert.Equal(t, "<script>alert", s.Step(2).Predicate.Expected)

	perms := s.Permissions()
	perms[0] = "camera"
	assert.Equal(t, []string{"geolocation"}, s.Permissions())

	plain := MustNew("plain", []Step{Navigate("/")})
	_, ok = plain.Geolocation()
	assert.False(t, ok)
	assert.Empty(t, plain.Permissions())
}

func TestLoader_LoadFSRejectsDuplicateIDs(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"suite/a.yaml":    {Data: []byte("id: same\nsteps:\n  - navigate: /\n")},
		"suite/b.yml":     {Data: []byte("id: same\nsteps:\n  - navigate: /\n")},
		"suite/notes.txt": {Data: []byte("ignored")},
	}
	_, err := (&Loader{}).LoadFS(fsys, "suite")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate scenario id "same"`)
}

func TestLoader_LoadFSOrdersByPath(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"b.yaml": {Data: []byte("id: second\nsteps:\n  - navigate: /\n")},
		"a.yaml": {Data: []byte("id: first\nsteps:\n  - navigate: /\n")},
	}
	got, err := (&Loader{}).LoadFS(fsys, ".")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].ID())
	assert.Equal(t, "second", got[1].ID())
}

func testScenario_StepsAreImmutable(t *rapid.T) {
	texts := rapid.SliceOfN(rapid.StringMatching(`[A-Za-z ]{1,20}`), 1, 10).Draw(t, "texts")
	steps := make([]Step, 0, len(texts))
	for _, text := range texts {
		steps = append(steps, WaitForText(text, time.Second))
	}

	s, err := New("immutable", steps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	steps[0].Text = "mutated input"
	view := s.Steps()
	view[len(view)-1].Text = "mutated view"

	for i, text := range texts {
		if got := s.Step(i).Text; got != text {
			t.Fatalf("step %d changed: got %q want %q", i, got, text)
		}
	}
}

func TestScenario_StepsAreImmutable(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testScenario_StepsAreImmutable)
}

func TestStep_DescribeNeverLeaksFillValue(t *testing.T) {
	t.Parallel()
	desc := FillSecret("hunter2").Describe()
	assert.NotContains(t, desc, "hunter2")
	assert.Equal(t, "assert welcome shown", Assert(Predicate{Kind: Visible, Selector: "#w"}, "welcome shown").Describe())
}

func TestNew_RejectsActionWithoutLocate(t *testing.T) {
	t.Parallel()
	_, err := New("orphan", []Step{Navigate("/"), Click(time.Second)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "click has no preceding locate")
}
