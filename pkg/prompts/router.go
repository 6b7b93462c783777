// Package prompts builds the LLM prompts used by the analysis agents.
package prompts

import (
	"fmt"
	"strings"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// AgentSummary describes one routable agent for the router prompt.
type AgentSummary struct {
	Name        string
	Description string
}

// DefaultAgents is the routing catalogue shown to the router.
var DefaultAgents = []AgentSummary{
	{Name: "nl2sql", Description: "Translates the question into SQL, executes it and analyzes the results. The default for any question about data."},
	{Name: "chart", Description: "Re-visualizes data from a previous answer without rerunning the query."},
	{Name: "insights", Description: "Produces deeper observations over data from a previous answer."},
}

// BuildRouterPrompt creates the routing decision prompt.
func BuildRouterPrompt(query string, agents []AgentSummary, memory *models.ConversationMemory) string {
	var prompt strings.Builder

	prompt.WriteString("# Query Routing\n\n")
	prompt.WriteString("Decide which agent should handle the user's question.\n\n")

	prompt.WriteString("## Available Agents\n\n")
	for _, a := range agents {
		prompt.WriteString(fmt.Sprintf("- **%s**: %s\n", a.Name, a.Description))
	}

	if memory != nil && len(memory.Turns) > 0 {
		prompt.WriteString("\n## Recent Conversation\n\n")
		for _, turn := range lastTurns(memory.Turns, 3) {
			prompt.WriteString(fmt.Sprintf("- User asked: %q\n", turn.Query))
			if turn.SQLQuery != "" {
				prompt.WriteString(fmt.Sprintf("  SQL used: %s\n", turn.SQLQuery))
			}
		}
	}

	prompt.WriteString("\n## Question\n\n")
	prompt.WriteString(query)
	prompt.WriteString("\n\n## Response Format\n\n")
	prompt.WriteString("Respond with a single JSON object:\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(`{"primaryAgent": "nl2sql", "strategy": "sequential", "confidence": 0.9, "reasoning": "one sentence"}` + "\n")
	prompt.WriteString("```\n")
	return prompt.String()
}

// BuildConversationalPrompt creates the supervisor prompt used when no data
// source is attached to the request.
func BuildConversationalPrompt(query string) string {
	var prompt strings.Builder
	prompt.WriteString("You are a data analysis assistant. The user has not connected a data source, ")
	prompt.WriteString("so you cannot run any queries. Answer conversationally, and politely explain that ")
	prompt.WriteString("connecting a data source is required before you can analyze data.\n\n")
	prompt.WriteString("User message: ")
	prompt.WriteString(query)
	return prompt.String()
}

func lastTurns(turns []models.ConversationTurn, n int) []models.ConversationTurn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
