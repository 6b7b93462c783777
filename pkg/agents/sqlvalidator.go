package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
	"github.com/lucidata-ai/lucid-engine/pkg/recovery"
	"github.com/lucidata-ai/lucid-engine/pkg/sqltrans"
)

// SQLValidator performs syntactic validation of generated SQL without
// touching the warehouse.
type SQLValidator struct {
	logger *zap.Logger
}

// NewSQLValidator builds the validation agent.
func NewSQLValidator(logger *zap.Logger) *SQLValidator {
	return &SQLValidator{logger: logger.Named("agent.sqlvalidator")}
}

func (a *SQLValidator) Name() string { return "sql_validator" }

var (
	// `SELECT `table` AND columns` is a known LLM corruption shape.
	corruptionPattern = regexp.MustCompile("(?i)^SELECT\\s+`[^`]+`\\s+AND\\s")

	fromTablePattern = regexp.MustCompile(`(?i)\bFROM\s+([\x60"]?)([A-Za-z_][\w.]*)`)

	reservedTableWords = map[string]bool{
		"select": true, "where": true, "group": true, "order": true,
		"limit": true, "join": true, "having": true, "union": true,
	}

	stringLiteralPattern = regexp.MustCompile(`'([^']*)'`)
)

func validationError(subtype, message, fix string, recoverability models.Recoverability) *models.ClassifiedError {
	return &models.ClassifiedError{
		Category:       models.ErrorCategorySQLValidation,
		Subtype:        subtype,
		Severity:       models.SeverityHigh,
		Recoverability: recoverability,
		Message:        message,
		SuggestedFix:   fix,
		Confidence:     0.95,
	}
}

func (a *SQLValidator) Run(_ context.Context, state *models.WorkflowState) (*models.WorkflowState, *models.ClassifiedError) {
	sql := strings.TrimSpace(state.SQLQuery)

	// Check 5 first: the corruption shape also starts with SELECT.
	if corruptionPattern.MatchString(sql) {
		return nil, validationError("corrupted_select",
			"generated SQL matches the backtick-AND corruption shape",
			"regenerate the query without backtick column fusion",
			models.RecoverRetry)
	}

	// Check 1: SELECT prefix.
	if !strings.HasPrefix(strings.ToUpper(sql), "SELECT") {
		return nil, validationError("not_select",
			"query must start with SELECT",
			"generate exactly one SELECT statement",
			models.RecoverRetry)
	}

	// Check 2: FROM with a non-reserved table name.
	m := fromTablePattern.FindStringSubmatch(sql)
	if m == nil {
		return nil, validationError("missing_from",
			"query has no FROM clause with a table name",
			"include FROM with a table from the schema",
			models.RecoverRetry)
	}
	if m[1] == "" && reservedTableWords[strings.ToLower(m[2])] {
		return nil, validationError("reserved_table",
			fmt.Sprintf("FROM is followed by reserved word %q", m[2]),
			"use a real table name from the schema",
			models.RecoverRetry)
	}

	// Check 3: balanced parentheses, bounded auto-fix.
	fixed, ok := recovery.BalanceParens(sql)
	if !ok {
		return nil, validationError("unbalanced_parens",
			"unbalanced parentheses beyond the bounded auto-fix",
			"regenerate with balanced parentheses",
			models.RecoverRetry)
	}
	if fixed != sql {
		a.logger.Debug("auto-balanced parentheses",
			zap.String("requestId", state.RequestID))
		sql = fixed
	}

	// Check 4: no dangerous operations.
	if verb, found := sqltrans.DangerousVerb(sql); found {
		return nil, sqltrans.DangerousOpError(verb)
	}

	// Injection screening of string literals.
	for _, lit := range stringLiteralPattern.FindAllStringSubmatch(sql, -1) {
		if isSQLi, fingerprint := libinjection.IsSQLi(lit[1]); isSQLi {
			return nil, validationError("injection_pattern",
				fmt.Sprintf("string literal matches injection fingerprint %s", string(fingerprint)),
				"regenerate without embedded SQL fragments in literals",
				models.RecoverRetry)
		}
	}

	state.SQLQuery = sql
	state.Stage = models.StageSQLValidated
	state.SetProgress(ProgressSQLValidated, "sql validated")
	return state, nil
}
