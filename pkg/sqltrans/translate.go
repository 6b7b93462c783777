// Package sqltrans translates standard (PostgreSQL-flavoured) SQL into the
// target warehouse dialect through a pipeline of named rewrite rules, and
// applies the pre-execution safety and row-cap rewrites.
package sqltrans

import (
	"strings"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// dangerousVerbs are statement-leading keywords the engine must never send
// to a warehouse.
var dangerousVerbs = map[string]bool{
	"DROP":     true,
	"DELETE":   true,
	"TRUNCATE": true,
	"ALTER":    true,
	"CREATE":   true,
	"INSERT":   true,
	"UPDATE":   true,
	"GRANT":    true,
	"REVOKE":   true,
}

// Result is a translated query plus the advisory warnings and the names of
// the rules that changed it.
type Result struct {
	SQL      string   `json:"sql"`
	Warnings []string `json:"warnings,omitempty"`
	Applied  []string `json:"applied,omitempty"`
}

// Translator rewrites standard SQL for a target dialect.
type Translator struct {
	pipelines map[models.Dialect][]Rule
}

// NewTranslator builds the per-dialect rule pipelines.
func NewTranslator() *Translator {
	return &Translator{
		pipelines: map[models.Dialect][]Rule{
			models.DialectPostgres: {whitespaceRule},
			models.DialectStandard: {whitespaceRule},
			models.DialectMySQL: {
				whitespaceRule,
				rewriteConcat("CONCAT"),
			},
			models.DialectClickHouse: {
				whitespaceRule,
				rewriteConcat("concat"),
				clickhouseDateFunctions,
			},
			models.DialectMSSQL: {
				whitespaceRule,
				mssqlTopLimit,
			},
		},
	}
}

// Translate rewrites sql for the dialect. It rejects anything containing a
// top-level data-mutating statement and never introduces one itself.
func (t *Translator) Translate(sql string, dialect models.Dialect) (*Result, *models.ClassifiedError) {
	stmts := splitStatements(sql)
	if len(stmts) == 0 {
		return nil, &models.ClassifiedError{
			Category:       models.ErrorCategorySQLValidation,
			Subtype:        "empty_statement",
			Severity:       models.SeverityHigh,
			Recoverability: models.RecoverRetry,
			Message:        "no SQL statement found",
			Confidence:     1.0,
		}
	}
	for _, stmt := range stmts {
		if verb := firstKeyword(stmt); dangerousVerbs[verb] {
			return nil, DangerousOpError(verb)
		}
	}
	if len(stmts) > 1 {
		return nil, &models.ClassifiedError{
			Category:       models.ErrorCategorySQLValidation,
			Subtype:        "multiple_statements",
			Severity:       models.SeverityHigh,
			Recoverability: models.RecoverRetry,
			Message:        "only a single statement may be executed",
			SuggestedFix:   "generate exactly one SELECT statement",
			Confidence:     1.0,
		}
	}

	// Trailing semicolons are already gone; run the dialect pipeline.
	out := stmts[0]
	res := &Result{}
	pipeline, ok := t.pipelines[dialect]
	if !ok {
		pipeline = t.pipelines[models.DialectStandard]
	}
	for _, rule := range pipeline {
		next, warnings := rule.Apply(out)
		if next != out {
			res.Applied = append(res.Applied, rule.Name)
		}
		res.Warnings = append(res.Warnings, warnings...)
		out = next
	}
	res.SQL = out
	return res, nil
}

// DangerousVerb returns the first top-level data-mutating verb in sql, if
// any. Verbs inside string literals do not count.
func DangerousVerb(sql string) (string, bool) {
	for _, stmt := range splitStatements(sql) {
		if verb := firstKeyword(stmt); dangerousVerbs[verb] {
			return verb, true
		}
	}
	return "", false
}

// DangerousOpError is the classified rejection for data-mutating statements.
func DangerousOpError(verb string) *models.ClassifiedError {
	return &models.ClassifiedError{
		Category:       models.ErrorCategorySQLValidation,
		Subtype:        "dangerous_op",
		Severity:       models.SeverityCritical,
		Recoverability: models.RecoverNone,
		Message:        "statement contains forbidden operation " + strings.ToUpper(verb),
		Confidence:     1.0,
	}
}
