// Package validation provides reusable request validators. Unlike a
// fail-fast check, CompoundValidator runs every validator and reports all
// rejected fields together in one errors.ValidationError.
package validation

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/paveg/tabula/internal/coltype"
	"github.com/paveg/tabula/internal/errors"
	"github.com/paveg/tabula/internal/schema"
)

// Validator reports rejected fields into the collector.
type Validator interface {
	Validate(into *errors.ValidationError)
}

// ColumnProvider resolves column names against a dataset schema.
type ColumnProvider interface {
	Column(name string) (schema.ColumnSchema, int, bool)
}

// ColumnValidator checks that a bound column exists and, when allowed is
// non-empty, that its category is one of allowed.
type ColumnValidator struct {
	provider ColumnProvider
	field    string
	column   string
	allowed  []coltype.Category

	resolved schema.ColumnSchema
	index    int
	ok       bool
}

// NewColumnValidator creates a validator for the column bound to field.
func NewColumnValidator(provider ColumnProvider, field, column string, allowed ...coltype.Category) *ColumnValidator {
	return &ColumnValidator{
		provider: provider,
		field:    field,
		column:   column,
		allowed:  allowed,
		index:    -1,
	}
}

// Validate checks existence and category.
func (v *ColumnValidator) Validate(into *errors.ValidationError) {
	col, idx, found := v.provider.Column(v.column)
	if !found {
		into.Add(v.field, errors.CodeNotFound, fmt.Sprintf("column %q not found", v.column))
		return
	}
	if len(v.allowed) > 0 && !slices.Contains(v.allowed, col.DeclaredType) {
		names := make([]string, len(v.allowed))
		for i, c := range v.allowed {
			names[i] = c.String()
		}
		into.Add(v.field, errors.CodeTypeMismatch, fmt.Sprintf("column %q is %s, expected %s",
			v.column, col.DeclaredType, strings.Join(names, " or ")))
		return
	}
	v.resolved, v.index, v.ok = col, idx, true
}

// Resolved returns the column after a successful Validate.
func (v *ColumnValidator) Resolved() (schema.ColumnSchema, int, bool) {
	return v.resolved, v.index, v.ok
}

// RequiredValidator rejects an empty value.
type RequiredValidator struct {
	field string
	value string
}

// NewRequiredValidator creates a presence check.
func NewRequiredValidator(field, value string) *RequiredValidator {
	return &RequiredValidator{field: field, value: value}
}

// Validate rejects an empty or blank value.
func (v *RequiredValidator) Validate(into *errors.ValidationError) {
	if strings.TrimSpace(v.value) == "" {
		into.Add(v.field, errors.CodeRequired, "is required")
	}
}

// RangeValidator checks min <= value <= max. A max of 0 means unbounded.
type RangeValidator struct {
	field string
	value int
	min   int
	max   int
}

// NewRangeValidator creates a bounds check.
func NewRangeValidator(field string, value, minValue, maxValue int) *RangeValidator {
	return &RangeValidator{field: field, value: value, min: minValue, max: maxValue}
}

// Validate checks the bounds.
func (v *RangeValidator) Validate(into *errors.ValidationError) {
	switch {
	case v.value < v.min:
		into.Add(v.field, errors.CodeOutOfRange, fmt.Sprintf("must be at least %d, got %d", v.min, v.value))
	case v.max > 0 && v.value > v.max:
		into.Add(v.field, errors.CodeOutOfRange, fmt.Sprintf("must be at most %d, got %d", v.max, v.value))
	}
}

// CheckValidator records a rejection when a precomputed condition fails.
type CheckValidator struct {
	field   string
	code    string
	ok      bool
	message string
}

// NewCheck creates a validator from a boolean outcome.
func NewCheck(field, code string, ok bool, message string) *CheckValidator {
	return &CheckValidator{field: field, code: code, ok: ok, message: message}
}

// Validate records the failure, if any.
func (v *CheckValidator) Validate(into *errors.ValidationError) {
	if !v.ok {
		into.Add(v.field, v.code, v.message)
	}
}

// CompoundValidator combines multiple validators
type CompoundValidator struct {
	op         string
	validators []Validator
}

// NewCompoundValidator creates a validator that checks multiple conditions
func NewCompoundValidator(op string, validators ...Validator) *CompoundValidator {
	return &CompoundValidator{op: op, validators: validators}
}

// Add appends more validators.
func (v *CompoundValidator) Add(validators ...Validator) {
	v.validators = append(v.validators, validators...)
}

// Validate runs every validator and returns all rejections, or nil.
func (v *CompoundValidator) Validate() error {
	collected := errors.NewValidationError(v.op)
	for _, validator := range v.validators {
		validator.Validate(collected)
	}
	return collected.Err()
}

// ValidateColumns is a convenience function for column existence validation
func ValidateColumns(provider ColumnProvider, op string, fields map[string]string) error {
	cv := NewCompoundValidator(op)
	for _, field := range slices.Sorted(maps.Keys(fields)) {
		cv.Add(NewColumnValidator(provider, field, fields[field]))
	}
	return cv.Validate()
}
