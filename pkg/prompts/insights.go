package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// sampleRowsForPrompt bounds how many rows are shown to the model.
const sampleRowsForPrompt = 20

// roleTone maps a user role to the tone instruction for insights.
func roleTone(role models.Role) string {
	switch role {
	case models.RoleAdmin, models.RoleManager:
		return "Be action-oriented: every recommendation should name a concrete next step the business can take."
	case models.RoleAnalyst:
		return "Include methodology notes: say how each observation was derived and what would strengthen it."
	default:
		return "Use plain language and avoid jargon; summarize what the data shows."
	}
}

// BuildInsightsPrompt creates the insights generation prompt.
func BuildInsightsPrompt(query string, result *models.QueryResult, role models.Role) string {
	var prompt strings.Builder

	prompt.WriteString("# Data Analysis\n\n")
	prompt.WriteString("The user asked: ")
	prompt.WriteString(query)
	prompt.WriteString("\n\n## Query Results\n\n")
	prompt.WriteString(renderRows(result))

	prompt.WriteString("\n## Task\n\n")
	prompt.WriteString("Produce observations (insights) and suggested actions (recommendations) grounded in the rows above. ")
	prompt.WriteString(roleTone(role))
	prompt.WriteString("\n\n## Response Format\n\n")
	prompt.WriteString("Respond with a single JSON object:\n")
	prompt.WriteString("```json\n")
	prompt.WriteString(`{"insights": [{"title": "...", "description": "...", "confidence": 0.9}], "recommendations": [{"title": "...", "description": "..."}]}` + "\n")
	prompt.WriteString("```\n")
	return prompt.String()
}

// BuildNarrationPrompt creates the finalization prompt assembling the
// user-facing answer.
func BuildNarrationPrompt(query string, result *models.QueryResult, insights []models.Insight, hasChart bool) string {
	var prompt strings.Builder

	prompt.WriteString("Write a short answer to the user's question based on the analysis below. ")
	prompt.WriteString("Two or three sentences, no headings, no bullet lists.\n\n")
	prompt.WriteString("Question: ")
	prompt.WriteString(query)
	prompt.WriteString("\n\nResults:\n")
	prompt.WriteString(renderRows(result))
	if len(insights) > 0 {
		prompt.WriteString("\nKey findings:\n")
		for _, ins := range insights {
			prompt.WriteString(fmt.Sprintf("- %s: %s\n", ins.Title, ins.Description))
		}
	}
	if hasChart {
		prompt.WriteString("\nA chart accompanies the answer; you may refer to it.\n")
	}
	return prompt.String()
}

// renderRows serializes a bounded sample of rows for prompt inclusion.
func renderRows(result *models.QueryResult) string {
	if result == nil || result.RowCount == 0 {
		return "(the query returned no rows)\n"
	}
	rows := result.Rows
	if len(rows) > sampleRowsForPrompt {
		rows = rows[:sampleRowsForPrompt]
	}
	encoded, err := json.Marshal(rows)
	if err != nil {
		return "(results unavailable)\n"
	}
	var b strings.Builder
	b.Write(encoded)
	b.WriteByte('\n')
	if result.RowCount > len(rows) {
		b.WriteString(fmt.Sprintf("(%d of %d rows shown)\n", len(rows), result.RowCount))
	}
	return b.String()
}
