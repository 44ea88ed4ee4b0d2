package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const triagePromptName = "triage_scenario"

func registerPrompts(mcpServer *mcp.Server) {
	for _, prompt := range PromptDefinitions() {
		mcpServer.AddPrompt(prompt, promptHandler())
	}
}

// PromptDefinitions returns the MCP prompt definitions.
func PromptDefinitions() []*mcp.Prompt {
	return []*mcp.Prompt{
		{
			Name:        triagePromptName,
			Title:       "Run and triage UI scenarios",
			Description: "How to run scenarios and read their results.",
		},
	}
}

func promptHandler() mcp.PromptHandler {
	return func(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Description: "How to run scenarios and read their results.",
			Messages: []*mcp.PromptMessage{
				{
					Role:    mcp.Role("user"),
					Content: &mcp.TextContent{Text: promptText},
				},
			},
		}, nil
	}
}

const promptText = "Call list_scenarios to see what can run, then run_scenario with an id. " +
	"A failed outcome means the application did not behave as the scenario expects: read expected, actual, step and last_url. " +
	"An errored outcome means the browser or harness broke (code session_fault, hard_interaction or canceled); rerun once before blaming the application. " +
	"Scenarios expected to fail report matched=true when they fail."
