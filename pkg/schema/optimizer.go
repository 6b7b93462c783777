package schema

import (
	"sort"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// PrunedSchema is a schema cut down to a token budget, with a record of
// everything that was dropped.
type PrunedSchema struct {
	Schema          *models.DatabaseSchema `json:"schema"`
	DroppedTables   []string               `json:"dropped_tables,omitempty"`
	DroppedColumns  map[string][]string    `json:"dropped_columns,omitempty"`
	EstimatedTokens int                    `json:"estimated_tokens"`
}

// EstimateTokens approximates the token count of a prompt fragment at four
// characters per token.
func EstimateTokens(s string) int {
	return len(s) / 4
}

// Optimize prunes schema to budgetTokens using keyword overlap between the
// query (plus optional intent hints) and table/column names. The result
// always contains at least one table when the input has any, and never
// exceeds the budget unless a single table alone does.
func Optimize(schema *models.DatabaseSchema, query string, intent []string, budgetTokens int) *PrunedSchema {
	out := &PrunedSchema{
		Schema:         &models.DatabaseSchema{DataSourceID: schema.DataSourceID, Dialect: schema.Dialect, Fingerprint: schema.Fingerprint},
		DroppedColumns: map[string][]string{},
	}
	if len(schema.Tables) == 0 {
		return out
	}

	keywords := keywordSet(query, intent)

	type scored struct {
		table models.TableSchema
		score int
		index int
	}
	ranked := make([]scored, len(schema.Tables))
	for i, t := range schema.Tables {
		ranked[i] = scored{table: t, score: scoreTable(t, keywords), index: i}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if budgetTokens <= 0 || EstimateTokens(FormatCompact(schema)) <= budgetTokens {
		out.Schema.Tables = schema.Tables
		out.EstimatedTokens = EstimateTokens(FormatCompact(out.Schema))
		return out
	}

	// Add tables best-first while they fit; the top table is always kept.
	for i, cand := range ranked {
		trial := append(append([]models.TableSchema{}, out.Schema.Tables...), cand.table)
		trialSchema := &models.DatabaseSchema{Tables: trial}
		if i == 0 || EstimateTokens(FormatCompact(trialSchema)) <= budgetTokens {
			out.Schema.Tables = trial
		} else {
			out.DroppedTables = append(out.DroppedTables, cand.table.Name)
		}
	}

	// Still over budget with the kept tables: shed unmatched columns,
	// lowest-value first.
	if EstimateTokens(FormatCompact(out.Schema)) > budgetTokens {
		for i := range out.Schema.Tables {
			kept, dropped := pruneColumns(out.Schema.Tables[i], keywords)
			if len(dropped) > 0 {
				out.DroppedColumns[out.Schema.Tables[i].Name] = dropped
				out.Schema.Tables[i].Columns = kept
			}
			if EstimateTokens(FormatCompact(out.Schema)) <= budgetTokens {
				break
			}
		}
	}

	// Restore declaration order for stable prompts.
	order := make(map[string]int, len(schema.Tables))
	for i, t := range schema.Tables {
		order[t.Name] = i
	}
	sort.SliceStable(out.Schema.Tables, func(i, j int) bool {
		return order[out.Schema.Tables[i].Name] < order[out.Schema.Tables[j].Name]
	})

	out.EstimatedTokens = EstimateTokens(FormatCompact(out.Schema))
	return out
}

// keywordSet tokenizes the query and intent hints, adding singular and
// plural variants so "customers" matches a customer table and vice versa.
func keywordSet(query string, intent []string) map[string]bool {
	set := map[string]bool{}
	add := func(word string) {
		word = strings.ToLower(strings.TrimSpace(word))
		if len(word) < 3 {
			return
		}
		set[word] = true
		set[inflection.Singular(word)] = true
		set[inflection.Plural(word)] = true
	}
	for _, w := range splitWords(query) {
		add(w)
	}
	for _, hint := range intent {
		for _, w := range splitWords(hint) {
			add(w)
		}
	}
	return set
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func scoreTable(t models.TableSchema, keywords map[string]bool) int {
	score := 0
	for _, part := range nameParts(t.Name) {
		if keywords[part] {
			score += 10
		}
	}
	for _, c := range t.Columns {
		for _, part := range nameParts(c.Name) {
			if keywords[part] {
				score += 2
			}
		}
	}
	return score
}

// nameParts splits an identifier on underscores and adds inflected variants.
func nameParts(name string) []string {
	parts := strings.Split(strings.ToLower(name), "_")
	out := make([]string, 0, len(parts)*3+1)
	out = append(out, strings.ToLower(name))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, p, inflection.Singular(p), inflection.Plural(p))
	}
	return out
}

// pruneColumns keeps primary keys and keyword-matched columns, plus a small
// head of the declaration order so prompts keep identifying columns.
func pruneColumns(t models.TableSchema, keywords map[string]bool) (kept []models.ColumnSchema, dropped []string) {
	const headKeep = 3
	for i, c := range t.Columns {
		matched := false
		for _, part := range nameParts(c.Name) {
			if keywords[part] {
				matched = true
				break
			}
		}
		if c.PrimaryKey || matched || i < headKeep {
			kept = append(kept, c)
			continue
		}
		dropped = append(dropped, c.Name)
	}
	return kept, dropped
}
