// Package config parses the engine's INI-style configuration files with
// per-option access tracking and bounds validation.
package config

import (
	"fmt"

	"stepcore/pkg/errors"
)

// NewConfigError creates a validation error located at section and option.
func NewConfigError(section, option, message string) *errors.EngineError {
	return errors.ConfigValidationError(section, option, message)
}

// ErrMissingOption returns an error for a required but missing option.
func ErrMissingOption(section, option string) *errors.EngineError {
	return errors.New(errors.ErrConfigOption, "must be specified").
		SetSection(section).
		SetOption(option)
}

// ErrMissingSection returns an error for a missing section.
func ErrMissingSection(section string) *errors.EngineError {
	return errors.ConfigSectionError(section)
}

// ErrInvalidValue returns an error for a value that does not parse.
func ErrInvalidValue(section, option, value, expected string) *errors.EngineError {
	return NewConfigError(section, option, fmt.Sprintf("invalid value '%s', expected %s", value, expected))
}

// ErrOutOfRange returns an error for a value outside the allowed range.
func ErrOutOfRange(section, option string, value float64, constraint string) *errors.EngineError {
	return NewConfigError(section, option, fmt.Sprintf("value %v %s", value, constraint))
}

// ErrInvalidChoice returns an error for an invalid choice value.
func ErrInvalidChoice(section, option, value string, choices []string) *errors.EngineError {
	return NewConfigError(section, option, fmt.Sprintf("'%s' is not a valid choice (valid: %v)", value, choices))
}
