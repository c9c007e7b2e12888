package config

import (
	"fmt"
	"time"
)

// Validator collects configuration problems instead of failing on the
// first one, so an operator sees every mistake in one pass.
type Validator struct {
	section string
	errors  []error
}

// NewValidator creates a validator for one named config section.
func NewValidator(section string) *Validator {
	return &Validator{section: section}
}

// Required checks that a string field is set.
func (v *Validator) Required(field, value string) *Validator {
	if value == "" {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: required field is empty", v.section, field))
	}
	return v
}

// Positive checks that an int field is greater than zero.
func (v *Validator) Positive(field string, value int) *Validator {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: value %d must be positive", v.section, field, value))
	}
	return v
}

// RangeInt checks that an int field falls inside [min, max].
func (v *Validator) RangeInt(field string, value, min, max int) *Validator {
	if value < min || value > max {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: value %d is outside range [%d, %d]", v.section, field, value, min, max))
	}
	return v
}

// MinDuration checks that a duration is at least min.
func (v *Validator) MinDuration(field string, value, min time.Duration) *Validator {
	if value < min {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: duration %v is below minimum %v", v.section, field, value, min))
	}
	return v
}

// OneOf checks that a string field is one of the allowed values.
func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	v.errors = append(v.errors, fmt.Errorf("%s.%s: value %q must be one of %v", v.section, field, value, allowed))
	return v
}

// Custom applies an arbitrary check.
func (v *Validator) Custom(field string, fn func() error) *Validator {
	if err := fn(); err != nil {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: %w", v.section, field, err))
	}
	return v
}

// When applies checks only if the condition holds.
func (v *Validator) When(condition bool, checks func(*Validator)) *Validator {
	if condition {
		checks(v)
	}
	return v
}

// Errors returns every collected problem.
func (v *Validator) Errors() []error {
	return v.errors
}

// Validate returns a combined error covering all collected problems,
// or nil when the section is clean.
func (v *Validator) Validate() error {
	switch len(v.errors) {
	case 0:
		return nil
	case 1:
		return v.errors[0]
	default:
		return fmt.Errorf("%s validation failed with %d errors, first: %w", v.section, len(v.errors), v.errors[0])
	}
}

// DefaultOr returns value when non-zero, otherwise the default.
func DefaultOr[T comparable](value, defaultValue T) T {
	var zero T
	if value == zero {
		return defaultValue
	}
	return value
}
