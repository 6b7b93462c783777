package prompts

import (
	"fmt"
	"strings"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// BuildNL2SQLSystemPrompt creates the system prompt for SQL generation.
// The schema is the compact pruned rendering, one line per table.
func BuildNL2SQLSystemPrompt(dialect models.Dialect, compactSchema string, fixHint string) string {
	var prompt strings.Builder

	prompt.WriteString("You are an expert SQL writer. Generate a single read-only query answering the user's question.\n\n")
	prompt.WriteString(fmt.Sprintf("Target dialect: %s\n\n", dialect))

	prompt.WriteString("## Available Tables\n\n")
	prompt.WriteString(compactSchema)

	prompt.WriteString("\n## Rules\n\n")
	prompt.WriteString("- Exactly one SELECT statement. No INSERT, UPDATE, DELETE, DROP, CREATE, ALTER or TRUNCATE.\n")
	prompt.WriteString("- Use only the tables and columns listed above.\n")
	prompt.WriteString("- No explanations, no markdown. Output the SQL only.\n")
	if dialect == models.DialectClickHouse {
		prompt.WriteString("- Do not append FORMAT clauses.\n")
	}

	if fixHint != "" {
		prompt.WriteString("\n## Correction\n\nThe previous attempt was rejected: ")
		prompt.WriteString(fixHint)
		prompt.WriteString("\n")
	}
	return prompt.String()
}

// BuildNL2SQLUserPrompt renders the question plus optional conversation
// context.
func BuildNL2SQLUserPrompt(query string, memory *models.ConversationMemory) string {
	if memory == nil || len(memory.Turns) == 0 {
		return query
	}
	var prompt strings.Builder
	prompt.WriteString("Earlier in this conversation:\n")
	for _, turn := range lastTurns(memory.Turns, 3) {
		prompt.WriteString(fmt.Sprintf("- Q: %s\n", turn.Query))
		if turn.SQLQuery != "" {
			prompt.WriteString(fmt.Sprintf("  SQL: %s\n", turn.SQLQuery))
		}
	}
	prompt.WriteString("\nCurrent question: ")
	prompt.WriteString(query)
	return prompt.String()
}
