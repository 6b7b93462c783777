// Package recovery turns raw failure messages into classified errors and
// plans the state-machine edge the orchestrator should take next.
package recovery

import (
	"strings"

	"github.com/lucidata-ai/lucid-engine/pkg/models"
)

// pattern is one classification rule: every needle must appear in the
// lowercased message for the rule to fire. Rules are checked in order and
// the first match wins.
type pattern struct {
	needles        []string
	category       models.ErrorCategory
	subtype        string
	severity       models.ErrorSeverity
	recoverability models.Recoverability
	suggestedFix   string
	retryStrategy  string
	confidence     float64
}

var patterns = []pattern{
	// Permission and access problems are never retried.
	{[]string{"permission denied"}, models.ErrorCategoryPermission, "denied", models.SeverityCritical, models.RecoverNone, "", "", 0.95},
	{[]string{"access denied"}, models.ErrorCategoryPermission, "denied", models.SeverityCritical, models.RecoverNone, "", "", 0.95},
	{[]string{"authentication failed"}, models.ErrorCategoryPermission, "auth_failed", models.SeverityCritical, models.RecoverManual, "check the data source credentials", "", 0.9},

	// Schema drift: the generated SQL names objects that no longer exist.
	{[]string{"does not exist", "column"}, models.ErrorCategorySchema, "unknown_column", models.SeverityHigh, models.RecoverRetry, "regenerate with the current schema", "refresh_schema", 0.9},
	{[]string{"does not exist", "relation"}, models.ErrorCategorySchema, "unknown_table", models.SeverityHigh, models.RecoverRetry, "regenerate with the current schema", "refresh_schema", 0.9},
	{[]string{"unknown column"}, models.ErrorCategorySchema, "unknown_column", models.SeverityHigh, models.RecoverRetry, "regenerate with the current schema", "refresh_schema", 0.9},
	{[]string{"unknown table"}, models.ErrorCategorySchema, "unknown_table", models.SeverityHigh, models.RecoverRetry, "regenerate with the current schema", "refresh_schema", 0.9},
	{[]string{"unknown identifier"}, models.ErrorCategorySchema, "unknown_column", models.SeverityHigh, models.RecoverRetry, "regenerate with the current schema", "refresh_schema", 0.85},

	// Syntax problems in generated SQL.
	{[]string{"unbalanced parentheses"}, models.ErrorCategorySQLValidation, "unbalanced_parens", models.SeverityMedium, models.RecoverAutomatic, "balance parentheses", "", 0.95},
	{[]string{"syntax error"}, models.ErrorCategorySQLGeneration, "syntax", models.SeverityHigh, models.RecoverRetry, "regenerate with a simpler prompt", "simplify_prompt", 0.85},
	{[]string{"reserved word"}, models.ErrorCategorySQLValidation, "reserved_word", models.SeverityMedium, models.RecoverAutomatic, "strip reserved-word columns", "", 0.85},

	// Connectivity.
	{[]string{"connection refused"}, models.ErrorCategoryConnection, "refused", models.SeverityHigh, models.RecoverRetry, "", "backoff", 0.9},
	{[]string{"connection reset"}, models.ErrorCategoryConnection, "reset", models.SeverityHigh, models.RecoverRetry, "", "backoff", 0.9},
	{[]string{"no such host"}, models.ErrorCategoryConnection, "dns", models.SeverityCritical, models.RecoverManual, "verify the data source host", "", 0.9},
	{[]string{"too many connections"}, models.ErrorCategoryConnection, "pool_exhausted", models.SeverityHigh, models.RecoverRetry, "", "backoff", 0.85},

	// Timeouts.
	{[]string{"deadline exceeded"}, models.ErrorCategoryTimeout, "query_timeout", models.SeverityHigh, models.RecoverRetry, "narrow the query to reduce scanned data", "reduce_scope", 0.9},
	{[]string{"timeout"}, models.ErrorCategoryTimeout, "query_timeout", models.SeverityHigh, models.RecoverRetry, "narrow the query to reduce scanned data", "reduce_scope", 0.8},
	{[]string{"canceling statement due to statement timeout"}, models.ErrorCategoryTimeout, "query_timeout", models.SeverityHigh, models.RecoverRetry, "narrow the query to reduce scanned data", "reduce_scope", 0.9},

	// LLM-side failures.
	{[]string{"rate limit"}, models.ErrorCategoryLLM, "rate_limited", models.SeverityMedium, models.RecoverRetry, "", "backoff", 0.9},
	{[]string{"overloaded"}, models.ErrorCategoryLLM, "rate_limited", models.SeverityMedium, models.RecoverRetry, "", "backoff", 0.85},
	{[]string{"empty response"}, models.ErrorCategoryLLM, "empty_response", models.SeverityMedium, models.RecoverRetry, "", "fresh_model", 0.85},
	{[]string{"invalid tool call"}, models.ErrorCategoryLLM, "bad_tool_call", models.SeverityMedium, models.RecoverRetry, "", "fresh_model", 0.85},

	// Data access.
	{[]string{"out of memory"}, models.ErrorCategoryDataAccess, "resource_exhausted", models.SeverityHigh, models.RecoverRetry, "add a LIMIT or aggregate before fetching", "reduce_scope", 0.8},
	{[]string{"disk full"}, models.ErrorCategoryDataAccess, "resource_exhausted", models.SeverityCritical, models.RecoverManual, "", "", 0.85},
}

// Classify maps a failure message from stage onto the error taxonomy.
// Unrecognized messages fall back to a conservative unknown/retry for
// LLM-adjacent stages and unknown/manual otherwise.
func Classify(message string, stage models.Stage) *models.ClassifiedError {
	lower := strings.ToLower(message)
	for _, p := range patterns {
		matched := true
		for _, needle := range p.needles {
			if !strings.Contains(lower, needle) {
				matched = false
				break
			}
		}
		if matched {
			return &models.ClassifiedError{
				Category:       p.category,
				Subtype:        p.subtype,
				Severity:       p.severity,
				Recoverability: p.recoverability,
				Message:        message,
				SuggestedFix:   p.suggestedFix,
				RetryStrategy:  p.retryStrategy,
				Confidence:     p.confidence,
			}
		}
	}

	recoverability := models.RecoverManual
	category := models.ErrorCategoryUnknown
	switch stage {
	case models.StageReceived, models.StageRoutedToNL2SQL, models.StageSQLGenerated,
		models.StageRoutedToChart, models.StageRoutedToInsights:
		recoverability = models.RecoverRetry
		category = models.ErrorCategoryLLM
	}
	return &models.ClassifiedError{
		Category:       category,
		Subtype:        "unclassified",
		Severity:       models.SeverityHigh,
		Recoverability: recoverability,
		Message:        message,
		Confidence:     0.3,
	}
}
