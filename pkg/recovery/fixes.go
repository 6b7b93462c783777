package recovery

import (
	"regexp"
	"strings"
)

var formatSuffixPattern = regexp.MustCompile(`(?i)\s+FORMAT\s+\w+\s*$`)

// BalanceParens applies the bounded deterministic fix for unbalanced
// parentheses: at most two missing closers are appended (before any FORMAT
// suffix) and at most two trailing extra closers are trimmed. Returns the
// fixed SQL and whether it is now balanced.
func BalanceParens(sql string) (string, bool) {
	depth := parenDepth(sql)
	switch {
	case depth == 0:
		return sql, true
	case depth > 0 && depth <= 2:
		closers := strings.Repeat(")", depth)
		if loc := formatSuffixPattern.FindStringIndex(sql); loc != nil {
			return sql[:loc[0]] + closers + sql[loc[0]:], true
		}
		return sql + closers, true
	case depth < 0 && depth >= -2:
		out := sql
		for parenDepth(out) < 0 {
			trimmed := strings.TrimRight(out, " \t\n")
			if !strings.HasSuffix(trimmed, ")") {
				return sql, false
			}
			out = strings.TrimSuffix(trimmed, ")")
		}
		return out, true
	default:
		return sql, false
	}
}

// parenDepth counts net paren nesting outside string literals.
func parenDepth(sql string) int {
	depth := 0
	inSgl := false
	for _, ch := range sql {
		switch {
		case inSgl:
			if ch == '\'' {
				inSgl = false
			}
		case ch == '\'':
			inSgl = true
		case ch == '(':
			depth++
		case ch == ')':
			depth--
		}
	}
	return depth
}

// reservedColumnWords are identifiers LLMs occasionally emit as bare columns.
var reservedColumnWords = map[string]bool{
	"order": true, "group": true, "select": true, "from": true,
	"where": true, "table": true, "index": true, "user": true,
}

// StripReservedColumns removes bare reserved-word items from the SELECT
// list. Returns the rewritten SQL and whether anything was removed; the
// rewrite never empties the list.
func StripReservedColumns(sql string) (string, bool) {
	upper := strings.ToUpper(sql)
	start := strings.Index(upper, "SELECT")
	end := strings.Index(upper, " FROM ")
	if start != 0 || end <= start {
		return sql, false
	}

	list := sql[len("SELECT"):end]
	items := strings.Split(list, ",")
	var kept []string
	removed := false
	for _, item := range items {
		if reservedColumnWords[strings.ToLower(strings.TrimSpace(item))] {
			removed = true
			continue
		}
		kept = append(kept, strings.TrimSpace(item))
	}
	if !removed || len(kept) == 0 {
		return sql, false
	}
	return "SELECT " + strings.Join(kept, ", ") + sql[end:], true
}
