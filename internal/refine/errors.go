package refine

import "fmt"

// ConfigurationError reports invalid or missing task parameters,
// surfaced before any computation starts.
type ConfigurationError struct {
	Field   string
	Message string
}

// Error formats the configuration problem for logs and UI.
func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// configErr builds a ConfigurationError for one task field.
func configErr(field, format string, a ...any) error {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, a...)}
}

// RefinementFailure reports that one phase's numerical refinement
// failed. A phase failure aborts the whole task; sibling partials are
// discarded rather than merged into a silently incomplete map.
type RefinementFailure struct {
	Phase string
	Err   error
}

// Error names the failing phase with the underlying cause.
func (e *RefinementFailure) Error() string {
	return fmt.Sprintf("refining phase %q: %v", e.Phase, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *RefinementFailure) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed output artifact write.
type PersistenceError struct {
	Path string
	Err  error
}

// Error names the artifact path with the underlying cause.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Path, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}
