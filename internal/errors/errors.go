// Package errors defines the error kinds surfaced by ingestion and chart
// operations. Every kind carries operation context and supports errors.Is
// against the predefined sentinels, so callers can branch on the kind without
// string matching.
package errors

import (
	"fmt"
	"strings"
)

// LoadErrorKind classifies why a file could not be turned into a relation.
type LoadErrorKind int

const (
	// Corrupt means the bytes could not be parsed in the declared format.
	Corrupt LoadErrorKind = iota + 1
	// UnsupportedFormat means no loader handles the declared extension.
	UnsupportedFormat
	// SizeLimitExceeded means the byte or row ceiling was crossed.
	SizeLimitExceeded
)

func (k LoadErrorKind) String() string {
	switch k {
	case Corrupt:
		return "corrupt"
	case UnsupportedFormat:
		return "unsupported format"
	case SizeLimitExceeded:
		return "size limit exceeded"
	default:
		return "unknown"
	}
}

// LoadError is returned by the format loaders.
type LoadError struct {
	Kind    LoadErrorKind
	Format  string // csv, xlsx, json, parquet or the raw extension
	Message string
	Cause   error
}

// Error implements the error interface
func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("load")
	if e.Format != "" {
		b.WriteString(" " + e.Format)
	}
	fmt.Fprintf(&b, " failed (%s)", e.Kind)
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause for error wrapping support
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Is matches another LoadError by kind; empty fields on the target act as wildcards.
func (e *LoadError) Is(target error) bool {
	t, ok := target.(*LoadError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Format == "" || t.Format == e.Format
}

// NewCorruptError reports bytes that cannot be parsed as format.
func NewCorruptError(format, message string, cause error) *LoadError {
	return &LoadError{Kind: Corrupt, Format: format, Message: message, Cause: cause}
}

// NewUnsupportedFormatError reports a declared extension no loader handles.
func NewUnsupportedFormatError(ext string) *LoadError {
	return &LoadError{
		Kind:    UnsupportedFormat,
		Format:  ext,
		Message: fmt.Sprintf("no loader for extension %q", ext),
	}
}

// NewSizeLimitError reports a crossed ceiling; what is "bytes" or "rows".
func NewSizeLimitError(format, what string, limit int64) *LoadError {
	return &LoadError{
		Kind:    SizeLimitExceeded,
		Format:  format,
		Message: fmt.Sprintf("more than %d %s", limit, what),
	}
}

// Field error codes.
const (
	CodeRequired     = "required"
	CodeNotFound     = "not_found"
	CodeTypeMismatch = "type_mismatch"
	CodeOutOfRange   = "out_of_range"
	CodeInvalid      = "invalid"
)

// FieldError is a single rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Message
}

// ValidationError collects every field rejected while validating one request.
type ValidationError struct {
	Op     string
	Fields []FieldError
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	op := e.Op
	if op == "" {
		op = "request"
	}
	return fmt.Sprintf("%s validation failed: %s", op, strings.Join(parts, "; "))
}

// Is matches any ValidationError with the same op, or any op when the target's is empty.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return t.Op == "" || t.Op == e.Op
}

// Add records a rejected field.
func (e *ValidationError) Add(field, code, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Code: code, Message: message})
}

// Has reports whether field was rejected.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// Err returns nil when nothing was rejected.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// NewValidationError creates an empty collector for op.
func NewValidationError(op string) *ValidationError {
	return &ValidationError{Op: op}
}

// EngineError is returned when the analytical engine fails to run a plan.
type EngineError struct {
	Engine  string
	Op      string
	Message string
	Cause   error
}

// Error implements the error interface
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("%s engine: %s failed", e.Engine, e.Op)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for error wrapping support
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is matches any EngineError, or the same engine when the target names one.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return t.Engine == "" || t.Engine == e.Engine
}

// NewEngineError wraps cause as a failure of op on engine.
func NewEngineError(engine, op string, cause error) *EngineError {
	return &EngineError{Engine: engine, Op: op, Cause: cause}
}

// NotFoundError reports a missing dataset, column, sheet or file.
type NotFoundError struct {
	Resource string
	Name     string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	if e.Name == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.Name)
}

// Is matches any NotFoundError, or the same resource when the target names one.
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return t.Resource == "" || t.Resource == e.Resource
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(resource, name string) *NotFoundError {
	return &NotFoundError{Resource: resource, Name: name}
}

// Predefined sentinels for errors.Is
var (
	ErrCorrupt           = &LoadError{Kind: Corrupt}
	ErrUnsupportedFormat = &LoadError{Kind: UnsupportedFormat}
	ErrSizeLimitExceeded = &LoadError{Kind: SizeLimitExceeded}
	ErrValidation        = &ValidationError{}
	ErrEngine            = &EngineError{}
	ErrNotFound          = &NotFoundError{}
)
