package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/uiscenario/internal/automation"
	"github.com/kuitang/uiscenario/internal/automation/fake"
	"github.com/kuitang/uiscenario/internal/errs"
	"github.com/kuitang/uiscenario/internal/runner"
	"github.com/kuitang/uiscenario/internal/scenario"
)

func toolResultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatalf("missing tool result content: %#v", result)
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type: %T", result.Content[0])
	}
	return text.Text
}

func parseToolErrorPayload(t *testing.T, result *mcp.CallToolResult) toolErrorPayload {
	t.Helper()
	raw := toolResultText(t, result)
	var payload toolErrorPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("invalid tool error payload JSON: %v body=%q", err, raw)
	}
	return payload
}

// loginApp greets any user who submits the form.
func loginApp() fake.App {
	return fake.App{
		Routes: map[string]func(p *fake.Page){
			"/": func(p *fake.Page) {
				p.SetTitle("Sistema de Registro")
				p.Add("#email", fake.Element{Visible: true})
				p.Add("#entrar", fake.Element{Text: "Entrar", Visible: true})
			},
		},
		OnClick: map[string]func(p *fake.Page){
			"#entrar": func(p *fake.Page) {
				p.SetURL("http://app.test/inicio")
				p.ShowText("Bem-vindo ao Sistema de Registro")
			},
		},
	}
}

func testScenarios() []*scenario.Scenario {
	return []*scenario.Scenario{
		scenario.MustNew("TC001_login", []scenario.Step{
			scenario.Navigate("/"),
			scenario.Locate("#email", 0),
			scenario.Fill("simei@example.com"),
			scenario.Locate("#entrar", 0),
			scenario.Click(0),
			scenario.WaitForText("Bem-vindo", 0),
		}, scenario.WithTags("smoke", "auth"), scenario.WithDescription("Login shows the welcome banner")),
		scenario.MustNew("TC002_missing_button", []scenario.Step{
			scenario.Navigate("/"),
			scenario.Locate("#sair", 0),
			scenario.Click(0),
		}, scenario.WithTags("auth")),
	}
}

func newTestHandler(onResult ResultHook) *Handler {
	r := runner.New(fake.NewLauncher(loginApp()), runner.Config{
		BaseURL:  "http://app.test",
		Headless: true,
		Viewport: automation.Viewport{Width: 1280, Height: 720},
	})
	return NewHandler(testScenarios(), r, onResult)
}

func TestHandleToolCall_ListScenarios(t *testing.T) {
	t.Parallel()
	h := newTestHandler(nil)

	result, err := h.HandleToolCall(context.Background(), toolListScenarios, nil)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out listScenariosResult
	require.NoError(t, json.Unmarshal([]byte(toolResultText(t, result)), &out))
	require.Equal(t, 2, out.Total)
	assert.Equal(t, "TC001_login", out.Scenarios[0].ID)
	assert.Equal(t, 6, out.Scenarios[0].Steps)
	assert.Equal(t, scenario.Passed, out.Scenarios[0].Expect)
	assert.Equal(t, []string{"smoke", "auth"}, out.Scenarios[0].Tags)

	result, err = h.HandleToolCall(context.Background(), toolListScenarios, map[string]any{"tag": "smoke"})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(toolResultText(t, result)), &out))
	assert.Equal(t, 1, out.Total)
}

func TestHandleToolCall_RunScenarioPasses(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		seen []runner.Result
	)
	h := newTestHandler(func(_ context.Context, res runner.Result) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, res)
	})

	result, err := h.HandleToolCall(context.Background(), toolRunScenario, map[string]any{"id": "TC001_login"})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolResultText(t, result)), &out))
	assert.Equal(t, "passed", out["outcome"])
	assert.Equal(t, true, out["matched"])
	assert.Equal(t, "http://app.test/inicio", out["last_url"])

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, "TC001_login", seen[0].ScenarioID)
}

func TestHandleToolCall_RunScenarioReportsHardFailure(t *testing.T) {
	t.Parallel()
	h := newTestHandler(nil)

	result, err := h.HandleToolCall(context.Background(), toolRunScenario, map[string]any{"id": "TC002_missing_button"})
	require.NoError(t, err)
	require.False(t, result.IsError, "a completed run is a tool success")

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolResultText(t, result)), &out))
	assert.Equal(t, "errored", out["outcome"])
	assert.Equal(t, false, out["matched"])
	assert.Equal(t, string(errs.HardInteraction), out["code"])
	assert.EqualValues(t, 1, out["step_index"])
}

func TestHandleToolCall_RunScenarioRejectsBadInput(t *testing.T) {
	t.Parallel()
	h := newTestHandler(nil)
	ctx := context.Background()

	for name, args := range map[string]map[string]any{
		"missing id": {},
		"unknown id": {"id": "TC999"},
		"extra arg":  {"id": "TC001_login", "headless": false},
		"wrong type": {"id": 7},
	} {
		result, err := h.HandleToolCall(ctx, toolRunScenario, args)
		require.NoError(t, err, name)
		require.True(t, result.IsError, name)
		assert.Equal(t, errs.InvalidArgument, parseToolErrorPayload(t, result).Code, name)
	}

	result, err := h.HandleToolCall(ctx, "scenario_delete", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func testDecodeToolArgs_UnknownFieldsRejected(t *rapid.T) {
	field := rapid.StringMatching(`[a-z_]{1,16}`).Filter(func(s string) bool { return s != "id" }).Draw(t, "field")
	var decoded struct {
		ID string `json:"id"`
	}
	err := decodeToolArgs(map[string]any{"id": "TC001", field: "unexpected"}, &decoded)
	if err == nil {
		t.Fatalf("expected error for unknown field %q", field)
	}
	if got := errs.CodeOf(err); got != errs.InvalidArgument {
		t.Fatalf("unexpected error code: got=%q want=%q", got, errs.InvalidArgument)
	}
}

func TestDecodeToolArgs_UnknownFieldsRejected(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testDecodeToolArgs_UnknownFieldsRejected)
}

func TestServer_ToolsOverInMemoryTransport(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newTestHandler(nil)
	srv := NewServer(h.scenarios, h.runner, nil)
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	go func() { _ = srv.Serve(ctx, serverTransport) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{toolListScenarios, toolRunScenario}, names)

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolRunScenario,
		Arguments: map[string]any{"id": "TC001_login"},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, toolResultText(t, result), `"outcome": "passed"`)
}
