package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/uiscenario/internal/errs"
	"github.com/kuitang/uiscenario/internal/logutil"
	"github.com/kuitang/uiscenario/internal/obs"
	"github.com/kuitang/uiscenario/internal/runner"
	"github.com/kuitang/uiscenario/internal/scenario"
)

// ScenarioRunner runs one scenario to a terminal result.
type ScenarioRunner interface {
	Run(ctx context.Context, sc *scenario.Scenario) runner.Result
}

// ResultHook observes every result produced through run_scenario.
type ResultHook func(ctx context.Context, res runner.Result)

// Handler implements MCP tool call handling.
type Handler struct {
	scenarios []*scenario.Scenario
	byID      map[string]*scenario.Scenario
	runner    ScenarioRunner
	onResult  ResultHook
}

// NewHandler creates a handler over scenarios. onResult may be nil.
func NewHandler(scenarios []*scenario.Scenario, r ScenarioRunner, onResult ResultHook) *Handler {
	byID := make(map[string]*scenario.Scenario, len(scenarios))
	for _, sc := range scenarios {
		byID[sc.ID()] = sc
	}
	return &Handler{
		scenarios: scenarios,
		byID:      byID,
		runner:    r,
		onResult:  onResult,
	}
}

// createToolHandler returns a tool handler function for the given tool name.
func (h *Handler) createToolHandler(name string) func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		result, err := h.HandleToolCall(ctx, name, args)
		return result, nil, err
	}
}

// HandleToolCall routes tool calls to appropriate handlers.
func (h *Handler) HandleToolCall(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	if raw, err := json.Marshal(arguments); err == nil {
		obs.From(ctx).Debug("mcp tool call", "tool", name, "arguments", logutil.RedactJSONForLog(raw))
	}
	switch name {
	case toolListScenarios:
		return h.handleListScenarios(arguments)
	case toolRunScenario:
		return h.handleRunScenario(ctx, arguments)
	default:
		return newToolResultError(fmt.Sprintf("unknown tool: %s", name)), nil
	}
}

// newToolResultText creates a successful tool result with text content.
func newToolResultText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// newToolResultError creates a tool result indicating an error.
func newToolResultError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: message},
		},
		IsError: true,
	}
}

type toolErrorPayload struct {
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
}

func newToolResultCodedError(err error) *mcp.CallToolResult {
	return newToolResultError(marshalToolJSON(toolErrorPayload{
		Code:    errs.CodeOf(err),
		Message: errs.MessageOf(err),
	}))
}

func marshalToolJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response","detail":%q}`, err.Error())
	}
	return string(data)
}

// decodeToolArgs decodes args into dst, rejecting unknown fields.
func decodeToolArgs(args map[string]any, dst any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "arguments are not valid JSON", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid arguments", err)
	}
	return nil
}

type scenarioSummary struct {
	ID          string           `json:"id"`
	Description string           `json:"description,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Steps       int              `json:"steps"`
	Expect      scenario.Outcome `json:"expect"`
}

type listScenariosResult struct {
	Scenarios []scenarioSummary `json:"scenarios"`
	Total     int               `json:"total"`
}

func (h *Handler) handleListScenarios(args map[string]any) (*mcp.CallToolResult, error) {
	var in struct {
		Tag string `json:"tag"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return newToolResultCodedError(err), nil
	}

	out := listScenariosResult{Scenarios: []scenarioSummary{}}
	for _, sc := range h.scenarios {
		if in.Tag != "" && !sc.HasTag(in.Tag) {
			continue
		}
		out.Scenarios = append(out.Scenarios, scenarioSummary{
			ID:          sc.ID(),
			Description: sc.Description(),
			Tags:        sc.Tags(),
			Steps:       sc.Len(),
			Expect:      sc.Expect(),
		})
	}
	out.Total = len(out.Scenarios)
	return newToolResultText(marshalToolJSON(out)), nil
}

type runScenarioResult struct {
	runner.Result
	Matched bool   `json:"matched"`
	Elapsed string `json:"elapsed"`
}

func (h *Handler) handleRunScenario(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
	var in struct {
		ID string `json:"id"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return newToolResultCodedError(err), nil
	}
	if in.ID == "" {
		return newToolResultCodedError(errs.New(errs.InvalidArgument, "id is required")), nil
	}
	sc, ok := h.byID[in.ID]
	if !ok {
		return newToolResultCodedError(errs.New(errs.InvalidArgument, fmt.Sprintf("unknown scenario %q", in.ID))), nil
	}

	res := h.runner.Run(ctx, sc)
	if h.onResult != nil {
		h.onResult(ctx, res)
	}
	obs.From(ctx).Info("mcp scenario run", "scenario_id", res.ScenarioID, "run_id", res.RunID, "outcome", res.Outcome)

	out := runScenarioResult{
		Result:  res,
		Matched: res.Matched(),
		Elapsed: res.Elapsed.Round(time.Millisecond).String(),
	}
	return newToolResultText(marshalToolJSON(out)), nil
}
