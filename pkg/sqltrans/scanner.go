package sqltrans

import (
	"strings"
	"unicode"
)

// splitStatements splits SQL on semicolons that sit outside single- and
// double-quoted regions. Empty statements are dropped.
func splitStatements(sql string) []string {
	var (
		out     []string
		current strings.Builder
		inSgl   bool
		inDbl   bool
	)

	for _, ch := range sql {
		switch {
		case inSgl:
			current.WriteRune(ch)
			if ch == '\'' {
				inSgl = false
			}
		case inDbl:
			current.WriteRune(ch)
			if ch == '"' {
				inDbl = false
			}
		case ch == '\'':
			inSgl = true
			current.WriteRune(ch)
		case ch == '"':
			inDbl = true
			current.WriteRune(ch)
		case ch == ';':
			if s := strings.TrimSpace(current.String()); s != "" {
				out = append(out, s)
			}
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// collapseWhitespace folds runs of whitespace outside string literals into a
// single space. Literal contents are preserved byte for byte.
func collapseWhitespace(sql string) string {
	var (
		b         strings.Builder
		inSgl     bool
		inDbl     bool
		lastSpace bool
	)
	b.Grow(len(sql))

	for _, ch := range sql {
		switch {
		case inSgl:
			b.WriteRune(ch)
			if ch == '\'' {
				inSgl = false
			}
		case inDbl:
			b.WriteRune(ch)
			if ch == '"' {
				inDbl = false
			}
		case ch == '\'':
			inSgl = true
			lastSpace = false
			b.WriteRune(ch)
		case ch == '"':
			inDbl = true
			lastSpace = false
			b.WriteRune(ch)
		case unicode.IsSpace(ch):
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			lastSpace = false
			b.WriteRune(ch)
		}
	}
	return strings.TrimSpace(b.String())
}

// firstKeyword returns the leading keyword of a statement, uppercased.
func firstKeyword(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	for i, ch := range stmt {
		if unicode.IsSpace(ch) || ch == '(' {
			return strings.ToUpper(stmt[:i])
		}
	}
	return strings.ToUpper(stmt)
}
