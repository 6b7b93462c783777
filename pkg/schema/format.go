package schema

import (
	"strings"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// FormatCompact renders one line per table for SQL-generation prompts:
//
//	orders(id:numeric, customer_id:numeric, total:numeric, created_at:timestamp)
func FormatCompact(schema *models.DatabaseSchema) string {
	var b strings.Builder
	for _, t := range schema.Tables {
		b.WriteString(t.Name)
		b.WriteByte('(')
		for i, c := range t.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
			b.WriteByte(':')
			b.WriteString(c.Type)
		}
		b.WriteString(")\n")
	}
	return b.String()
}

// FormatStructured renders a hierarchical description for planning prompts,
// including nullability and key markers.
func FormatStructured(schema *models.DatabaseSchema) string {
	var b strings.Builder
	for _, t := range schema.Tables {
		b.WriteString("Table: ")
		b.WriteString(t.Name)
		if t.Description != "" {
			b.WriteString(" -- ")
			b.WriteString(t.Description)
		}
		b.WriteByte('\n')
		for _, c := range t.Columns {
			b.WriteString("  - ")
			b.WriteString(c.Name)
			b.WriteString(" (")
			b.WriteString(c.Type)
			if c.PrimaryKey {
				b.WriteString(", primary key")
			}
			if c.Nullable {
				b.WriteString(", nullable")
			}
			b.WriteString(")\n")
		}
	}
	return b.String()
}
