package sqltrans

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is one named rewrite step. Apply returns the rewritten SQL plus any
// advisory warnings; rules must be idempotent so repeated translation of an
// already-translated query is a no-op.
type Rule struct {
	Name  string
	Apply func(sql string) (string, []string)
}

var (
	concatOperandPattern = regexp.MustCompile(
		`([A-Za-z_][\w.]*\([^()]*\)|[A-Za-z_][\w.]*|'[^']*')\s*\|\|\s*([A-Za-z_][\w.]*\([^()]*\)|[A-Za-z_][\w.]*|'[^']*')`)

	dateTruncPattern = regexp.MustCompile(`(?i)DATE_TRUNC\s*\(\s*'(\w+)'\s*,\s*([^()]+?)\s*\)`)
	extractPattern   = regexp.MustCompile(`(?i)EXTRACT\s*\(\s*(\w+)\s+FROM\s+([^()]+?)\s*\)`)

	limitClausePattern = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)(\s+OFFSET\s+\d+)?\s*$`)
	selectHeadPattern  = regexp.MustCompile(`(?i)^(SELECT(?:\s+DISTINCT)?)\s`)
)

// clickhouse interval unit to the corresponding toStartOf function.
var clickhouseTrunc = map[string]string{
	"minute":  "toStartOfMinute",
	"hour":    "toStartOfHour",
	"day":     "toStartOfDay",
	"week":    "toStartOfWeek",
	"month":   "toStartOfMonth",
	"quarter": "toStartOfQuarter",
	"year":    "toStartOfYear",
}

var clickhouseExtract = map[string]string{
	"YEAR":   "toYear",
	"MONTH":  "toMonth",
	"DAY":    "toDayOfMonth",
	"HOUR":   "toHour",
	"MINUTE": "toMinute",
}

// rewriteConcat replaces `a || b` chains with a concat function. Applied
// innermost-first so chains collapse into nested calls.
func rewriteConcat(fn string) Rule {
	return Rule{
		Name: "concat_operator",
		Apply: func(sql string) (string, []string) {
			for i := 0; i < 16; i++ {
				next := concatOperandPattern.ReplaceAllString(sql, fn+`($1, $2)`)
				if next == sql {
					break
				}
				sql = next
			}
			var warnings []string
			if strings.Contains(sql, "||") {
				warnings = append(warnings, "string concatenation operator could not be fully rewritten; verify operands")
			}
			return sql, warnings
		},
	}
}

// clickhouseDateFunctions maps DATE_TRUNC and EXTRACT onto ClickHouse's
// native toStartOf*/to* functions.
var clickhouseDateFunctions = Rule{
	Name: "clickhouse_date_functions",
	Apply: func(sql string) (string, []string) {
		var warnings []string
		sql = dateTruncPattern.ReplaceAllStringFunc(sql, func(m string) string {
			parts := dateTruncPattern.FindStringSubmatch(m)
			fn, ok := clickhouseTrunc[strings.ToLower(parts[1])]
			if !ok {
				warnings = append(warnings, fmt.Sprintf("unsupported DATE_TRUNC unit %q left unchanged", parts[1]))
				return m
			}
			return fn + "(" + parts[2] + ")"
		})
		sql = extractPattern.ReplaceAllStringFunc(sql, func(m string) string {
			parts := extractPattern.FindStringSubmatch(m)
			fn, ok := clickhouseExtract[strings.ToUpper(parts[1])]
			if !ok {
				warnings = append(warnings, fmt.Sprintf("unsupported EXTRACT field %q left unchanged", parts[1]))
				return m
			}
			return fn + "(" + parts[2] + ")"
		})
		return sql, warnings
	},
}

// mssqlTopLimit converts a trailing LIMIT clause into SELECT TOP.
var mssqlTopLimit = Rule{
	Name: "mssql_top_limit",
	Apply: func(sql string) (string, []string) {
		m := limitClausePattern.FindStringSubmatch(sql)
		if m == nil {
			return sql, nil
		}
		var warnings []string
		if m[2] != "" {
			warnings = append(warnings, "OFFSET has no TOP equivalent and was dropped; use ORDER BY with OFFSET FETCH if paging is required")
		}
		sql = strings.TrimSpace(limitClausePattern.ReplaceAllString(sql, ""))
		sql = selectHeadPattern.ReplaceAllString(sql, "$1 TOP "+m[1]+" ")
		return sql, warnings
	},
}

// whitespaceRule folds whitespace runs outside string literals.
var whitespaceRule = Rule{
	Name: "collapse_whitespace",
	Apply: func(sql string) (string, []string) {
		return collapseWhitespace(sql), nil
	},
}
