package mcp

import "github.com/modelcontextprotocol/go-sdk/mcp"

const (
	toolListScenarios = "list_scenarios"
	toolRunScenario   = "run_scenario"
)

// ToolDefinitions returns the scenario tool definitions.
func ToolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        toolListScenarios,
			Description: "List the UI scenarios this runner has loaded. Returns each scenario's id, description, tags, step count and expected outcome. Pass tag to list only scenarios carrying that tag.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tag": map[string]any{
						"type":        "string",
						"description": "Optional tag filter",
					},
				},
			},
		},
		{
			Name:        toolRunScenario,
			Description: "Run one UI scenario in a fresh browser session against the configured application and return its result: outcome (passed, failed or errored), whether it matched the expected outcome, the failing step, the expected and actual text of a failed assertion, and the last URL and title. Failed means the application misbehaved; errored means the harness or browser broke.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{
						"type":        "string",
						"description": "Scenario id as returned by list_scenarios",
					},
				},
				"required": []string{"id"},
			},
		},
	}
}
