// Package errors provides the structured error taxonomy shared across the
// ingestion pipeline (§7 of the pipeline design).
package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// ErrorType classifies an error along the pipeline's failure taxonomy.
type ErrorType int

const (
	// ErrorTypeFetchFailed — network/HTTP/parse error on an external fetch.
	// Recorded as an Interaction with error set; the source's run ends but
	// the phase continues with the next source.
	ErrorTypeFetchFailed ErrorType = iota
	// ErrorTypeUnsupported — a SourceHandle was asked for an operation its
	// platform does not provide. Logged at debug, not counted as a failure.
	ErrorTypeUnsupported
	// ErrorTypeBudgetExhausted — a charged operation was attempted when
	// budget < cost. Skipped, counted in stats, pipeline continues.
	ErrorTypeBudgetExhausted
	// ErrorTypeExtractionFailed — LLM error or unparseable response. The
	// batch's nodes are dropped with a warning; the Interaction remains.
	ErrorTypeExtractionFailed
	// ErrorTypeDedupInconsistent — a graph vector lookup returned a record
	// that disappeared before write. Treated as Create by the caller.
	ErrorTypeDedupInconsistent
	// ErrorTypeCancelled — cooperative cancellation; caller returns partial
	// stats and releases locks.
	ErrorTypeCancelled
	// ErrorTypeConfig — missing or invalid configuration.
	ErrorTypeConfig
	// ErrorTypeValidation — invalid input data at a system boundary.
	ErrorTypeValidation
	// ErrorTypeDatabase — Postgres/Neo4j/Redis connection or query failure.
	ErrorTypeDatabase
	// ErrorTypeFatal — configuration missing, database unavailable at
	// startup, lock system down. The run aborts; caller retries later.
	ErrorTypeFatal
)

// Severity represents how critical an error is.
type Severity int

const (
	// SeverityLow — can continue with degraded functionality.
	SeverityLow Severity = iota
	// SeverityMedium — should be addressed but not fatal.
	SeverityMedium
	// SeverityHigh — significant issue, may impact functionality.
	SeverityHigh
	// SeverityCritical — must be addressed, stops the run.
	SeverityCritical
)

// Error is a structured error with pipeline context: which source, which
// run, which step it happened in.
type Error struct {
	Type       ErrorType
	Severity   Severity
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error (e.g. "source_id", "url", "step").
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Is checks if this error matches the target error's type.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// IsFatal returns true if this error should stop the run (§7 propagation
// policy: Fatal errors abort; everything else is caught per-source).
func (e *Error) IsFatal() bool {
	return e.Type == ErrorTypeFatal || e.Severity == SeverityCritical
}

// DetailedString renders the error with context and stack trace, for
// per-phase diagnostic logs.
func (e *Error) DetailedString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] [%s] %s\n", severityString(e.Severity), typeString(e.Type), e.Message))
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("caused by: %v\n", e.Cause))
	}
	if len(e.Context) > 0 {
		sb.WriteString("context:\n")
		for k, v := range e.Context {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, v))
		}
	}
	if e.StackTrace != "" {
		sb.WriteString(fmt.Sprintf("stack:\n%s\n", e.StackTrace))
	}
	return sb.String()
}

func typeString(t ErrorType) string {
	switch t {
	case ErrorTypeFetchFailed:
		return "FETCH_FAILED"
	case ErrorTypeUnsupported:
		return "UNSUPPORTED"
	case ErrorTypeBudgetExhausted:
		return "BUDGET_EXHAUSTED"
	case ErrorTypeExtractionFailed:
		return "EXTRACTION_FAILED"
	case ErrorTypeDedupInconsistent:
		return "DEDUP_INCONSISTENT"
	case ErrorTypeCancelled:
		return "CANCELLED"
	case ErrorTypeConfig:
		return "CONFIG"
	case ErrorTypeValidation:
		return "VALIDATION"
	case ErrorTypeDatabase:
		return "DATABASE"
	case ErrorTypeFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func severityString(s Severity) string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

func captureStackTrace(skip int) string {
	var sb strings.Builder
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			break
		}
		sb.WriteString(fmt.Sprintf("  %s:%d %s\n", file, line, fn.Name()))
	}
	return sb.String()
}

// New creates a new error with the given type, severity, and message.
func New(errType ErrorType, severity Severity, message string) *Error {
	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// Wrap wraps an existing error with pipeline type/severity/context.
func Wrap(err error, errType ErrorType, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Cause:      err,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// FetchFailed wraps a network/HTTP/parse failure from an archive fetch.
func FetchFailed(err error, message string) *Error {
	return Wrap(err, ErrorTypeFetchFailed, SeverityMedium, message)
}

// Unsupported reports a capability a source handle does not have.
func Unsupported(reason string) *Error {
	return New(ErrorTypeUnsupported, SeverityLow, reason)
}

// BudgetExhausted reports a charge attempted against insufficient budget.
func BudgetExhausted(operation string, costCents, remainingCents int64) *Error {
	return New(ErrorTypeBudgetExhausted, SeverityLow,
		fmt.Sprintf("budget exhausted for %s: cost=%dc remaining=%dc", operation, costCents, remainingCents))
}

// ExtractionFailed wraps an LLM or parse failure during extraction.
func ExtractionFailed(err error, message string) *Error {
	return Wrap(err, ErrorTypeExtractionFailed, SeverityMedium, message)
}

// DedupInconsistent reports a vector-index match that vanished before write.
func DedupInconsistent(message string) *Error {
	return New(ErrorTypeDedupInconsistent, SeverityLow, message)
}

// Cancelled reports cooperative cancellation.
func Cancelled() *Error {
	return New(ErrorTypeCancelled, SeverityLow, "run cancelled")
}

// ConfigError creates a fatal configuration error.
func ConfigError(message string) *Error {
	return New(ErrorTypeConfig, SeverityCritical, message)
}

// ConfigErrorf creates a fatal configuration error with formatting.
func ConfigErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeConfig, SeverityCritical, fmt.Sprintf(format, args...))
}

// ValidationError creates a validation error at a system boundary.
func ValidationError(message string) *Error {
	return New(ErrorTypeValidation, SeverityHigh, message)
}

// DatabaseError wraps a Postgres/Neo4j/Redis error.
func DatabaseError(err error, message string) *Error {
	return Wrap(err, ErrorTypeDatabase, SeverityCritical, message)
}

// DatabaseErrorf wraps a Postgres/Neo4j/Redis error with formatting.
func DatabaseErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeDatabase, SeverityCritical, fmt.Sprintf(format, args...))
}

// Fatal creates a fatal error that should abort the run.
func Fatal(err error, message string) *Error {
	return Wrap(err, ErrorTypeFatal, SeverityCritical, message)
}

// IsFatal reports whether err (if it is, or wraps, an *Error) is fatal.
func IsFatal(err error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.IsFatal()
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// GetType returns the ErrorType of err, or ErrorTypeFatal if err is not an
// *Error (an unclassified error is treated conservatively).
func GetType(err error) ErrorType {
	if err == nil {
		return ErrorTypeFatal
	}
	if e, ok := err.(*Error); ok {
		return e.Type
	}
	return ErrorTypeFatal
}
