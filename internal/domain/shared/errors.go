package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Aggregate not found")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Stream was modified by another writer")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")

	// ErrConfiguration covers registration-time defects: duplicate migration
	// edges, non-convergent version graphs, cycles, gaps, or a terminal
	// version with no registered current type. These are fatal at startup.
	ErrConfiguration = NewDomainError("CONFIGURATION", "Invalid event schema configuration")

	// ErrSchemaResolution is raised at read time when a stored type tag has
	// neither a current-schema match nor an upcaster chain.
	ErrSchemaResolution = NewDomainError("SCHEMA_RESOLUTION", "No current type or upcaster chain for stored event")

	// ErrHandlerMissing is raised when an event has no registered apply
	// handler. This is a programming defect, never recoverable at runtime.
	ErrHandlerMissing = NewDomainError("HANDLER_MISSING", "No apply handler registered for event type")

	// ErrInvariantViolation is raised on the live path when post-mutation
	// invariant checks fail. The in-memory mutation is rolled back first.
	ErrInvariantViolation = NewDomainError("INVARIANT_VIOLATION", "Aggregate invariant violated")

	// ErrTemporalAggregate is raised when a caller attempts to raise new
	// events against a read-only temporal reconstruction.
	ErrTemporalAggregate = NewDomainError("TEMPORAL_AGGREGATE", "Cannot mutate a temporal (read-only) aggregate")
)
