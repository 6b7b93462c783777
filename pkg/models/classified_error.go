package models

// ErrorCategory is the top-level classification of a workflow failure.
// These strings are wire-stable and part of the interface contract.
type ErrorCategory string

const (
	ErrorCategorySQLGeneration ErrorCategory = "sql_generation"
	ErrorCategorySQLValidation ErrorCategory = "sql_validation"
	ErrorCategorySQLExecution  ErrorCategory = "sql_execution"
	ErrorCategoryDataAccess    ErrorCategory = "data_access"
	ErrorCategoryConnection    ErrorCategory = "connection"
	ErrorCategoryPermission    ErrorCategory = "permission"
	ErrorCategorySchema        ErrorCategory = "schema"
	ErrorCategoryLLM           ErrorCategory = "llm"
	ErrorCategoryTimeout       ErrorCategory = "timeout"
	ErrorCategoryUnknown       ErrorCategory = "unknown"
)

// ErrorSeverity grades how serious a classified error is.
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "critical"
	SeverityHigh     ErrorSeverity = "high"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityLow      ErrorSeverity = "low"
	SeverityInfo     ErrorSeverity = "info"
)

// Recoverability determines which state-machine edge a failure takes.
type Recoverability string

const (
	// RecoverAutomatic applies a deterministic fix and re-enters validation.
	RecoverAutomatic Recoverability = "automatic"
	// RecoverRetry re-invokes the failing agent with modified inputs.
	RecoverRetry Recoverability = "retry"
	// RecoverManual requires operator intervention; the run fails.
	RecoverManual Recoverability = "manual"
	// RecoverNone is unrecoverable; the run fails.
	RecoverNone Recoverability = "none"
)

// ClassifiedError annotates a failure with category, severity, and the
// recovery strategy the planner should follow.
type ClassifiedError struct {
	Category       ErrorCategory  `json:"category"`
	Subtype        string         `json:"subtype,omitempty"`
	Severity       ErrorSeverity  `json:"severity"`
	Recoverability Recoverability `json:"recoverability"`
	Message        string         `json:"message"`
	SuggestedFix   string         `json:"suggested_fix,omitempty"`
	RetryStrategy  string         `json:"retry_strategy,omitempty"`
	Confidence     float64        `json:"confidence"`
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Subtype != "" {
		return string(e.Category) + "/" + e.Subtype + ": " + e.Message
	}
	return string(e.Category) + ": " + e.Message
}

// IsRecoverable reports whether the planner may attempt any recovery edge.
func (e *ClassifiedError) IsRecoverable() bool {
	return e.Recoverability == RecoverAutomatic || e.Recoverability == RecoverRetry
}
