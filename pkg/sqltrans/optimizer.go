package sqltrans

import (
	"regexp"
	"strconv"

	"github.com/lucidata-ai/lucid-engine/pkg/cache"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

var (
	hasLimitPattern  = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
	hasTopPattern    = regexp.MustCompile(`(?i)^SELECT(\s+DISTINCT)?\s+TOP\s+\d+`)
	selectStarOnly   = regexp.MustCompile(`(?i)\bSELECT\s+\*`)
	crossJoinPattern = regexp.MustCompile(`(?i)\bCROSS\s+JOIN\b`)
)

// Optimized is a query prepared for execution: row-capped where required,
// fingerprinted for the result cache, with advisory warnings attached.
type Optimized struct {
	SQL           string   `json:"sql"`
	Fingerprint   string   `json:"fingerprint"`
	Warnings      []string `json:"warnings,omitempty"`
	LimitInjected bool     `json:"limitInjected,omitempty"`
}

// Optimize caps rows for standard-mode analysis, emits advisory warnings,
// and computes the fingerprint used as the query cache key component.
// Deep-mode queries are left uncapped.
func Optimize(sql string, dialect models.Dialect, mode models.AnalysisMode, maxRows int) Optimized {
	out := Optimized{SQL: sql}

	if selectStarOnly.MatchString(sql) {
		out.Warnings = append(out.Warnings, "SELECT * fetches every column; project only the columns the analysis needs")
	}
	if crossJoinPattern.MatchString(sql) {
		out.Warnings = append(out.Warnings, "CROSS JOIN can multiply row counts; verify the join condition")
	}

	if mode == models.AnalysisModeStandard && maxRows > 0 && !hasRowCap(sql, dialect) {
		out.SQL = injectRowCap(sql, dialect, maxRows)
		out.LimitInjected = true
	}

	out.Fingerprint = cache.NormalizeSQL(out.SQL)
	return out
}

func hasRowCap(sql string, dialect models.Dialect) bool {
	if dialect == models.DialectMSSQL {
		return hasTopPattern.MatchString(sql)
	}
	return hasLimitPattern.MatchString(sql)
}

func injectRowCap(sql string, dialect models.Dialect, maxRows int) string {
	n := strconv.Itoa(maxRows)
	if dialect == models.DialectMSSQL {
		return selectHeadPattern.ReplaceAllString(sql, "$1 TOP "+n+" ")
	}
	return sql + " LIMIT " + n
}
