// Unified error handling for the stepper engine
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Motion errors, one per failure class of the step engine
	ErrCapabilityExceeded ErrorCode = "CAPABILITY_EXCEEDED"
	ErrUnexpectedEndstop  ErrorCode = "UNEXPECTED_ENDSTOP"
	ErrAbort              ErrorCode = "ABORT"
	ErrInvalidSegment     ErrorCode = "INVALID_SEGMENT"

	// Foreground usage errors
	ErrNotIdle     ErrorCode = "NOT_IDLE"
	ErrQueueFull   ErrorCode = "QUEUE_FULL"
	ErrUnsupported ErrorCode = "UNSUPPORTED"
	ErrHardware    ErrorCode = "HARDWARE"
	ErrShutdown    ErrorCode = "SHUTDOWN"

	// Runtime errors
	ErrRuntime ErrorCode = "RUNTIME"
)

// EngineError is the error type returned by the engine and its tooling.
type EngineError struct {
	Code    ErrorCode
	Message string

	// Axis names the axis the error refers to, if any.
	Axis string

	// Section and Option locate configuration errors.
	Section string
	Option  string

	Err     error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *EngineError) Error() string {
	where := e.Axis
	if where == "" {
		where = e.Section
		if e.Option != "" {
			where += "." + e.Option
		}
	}
	msg := fmt.Sprintf("[%s:%s] %s", e.Code, where, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *EngineError) Unwrap() error {
	return e.Err
}

// SetAxis sets the axis the error refers to
func (e *EngineError) SetAxis(axis string) *EngineError {
	e.Axis = axis
	return e
}

// SetSection sets the config section
func (e *EngineError) SetSection(section string) *EngineError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *EngineError) SetOption(option string) *EngineError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *EngineError) SetContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new EngineError
func New(code ErrorCode, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// Wrap wraps an existing error with a code and message
func Wrap(err error, code ErrorCode, message string) *EngineError {
	return &EngineError{Code: code, Message: message, Err: err}
}

// Config errors

// ConfigSectionError creates an error for a missing config section
func ConfigSectionError(section string) *EngineError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigValidationError creates an error for an option that failed validation
func ConfigValidationError(section, option, reason string) *EngineError {
	return New(ErrConfigValidation, reason).SetSection(section).SetOption(option)
}

// Motion errors

// CapabilityExceeded reports a step rate whose interval fell below the
// timer floor and was clamped.
func CapabilityExceeded(rate uint32, floor uint16) *EngineError {
	return New(ErrCapabilityExceeded,
		fmt.Sprintf("step rate %d needs an interval below %d ticks", rate, floor)).
		SetContext("rate", rate)
}

// UnexpectedEndstop reports an endstop hit outside a homing move.
func UnexpectedEndstop(axis string, steps int32) *EngineError {
	return New(ErrUnexpectedEndstop, fmt.Sprintf("endstop hit at step %d", steps)).
		SetAxis(axis).
		SetContext("steps", steps)
}

// InvalidSegment reports a segment whose counts are inconsistent.
func InvalidSegment(reason string) *EngineError {
	return New(ErrInvalidSegment, reason)
}

// NotIdle reports a foreground operation that needs a stopped engine.
func NotIdle(operation string) *EngineError {
	return New(ErrNotIdle, operation+" requires an idle engine")
}

// QueueFull reports a full segment queue.
func QueueFull(capacity int) *EngineError {
	return New(ErrQueueFull, fmt.Sprintf("segment queue full (%d entries)", capacity))
}

// Unsupported reports a feature that is unavailable on this platform.
func Unsupported(feature string) *EngineError {
	return New(ErrUnsupported, feature+" is not supported on "+runtime.GOOS)
}

// HardwareError wraps a backend failure.
func HardwareError(component string, err error) *EngineError {
	return Wrap(err, ErrHardware, component)
}

// RuntimeError creates a general runtime error
func RuntimeError(message string) *EngineError {
	return New(ErrRuntime, message)
}

// RecoverPanic converts a recovered panic value into an error.
// Call it as `defer func() { err = errors.RecoverPanic(recover()) }()`.
func RecoverPanic(r interface{}) *EngineError {
	if r == nil {
		return nil
	}
	switch x := r.(type) {
	case string:
		return RuntimeError("panic: " + x)
	case error:
		return Wrap(x, ErrRuntime, "panic")
	default:
		return RuntimeError(fmt.Sprintf("panic: %v", x))
	}
}

// Is checks if any error in the tree carries the given code. Joined
// errors are searched branch by branch.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*EngineError); ok && e.Code == code {
			return true
		}
		switch u := err.(type) {
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				if Is(inner, code) {
					return true
				}
			}
			return false
		default:
			return false
		}
	}
	return false
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation)
}

// IsMotion checks if error belongs to the step engine's failure classes
func IsMotion(err error) bool {
	return Is(err, ErrCapabilityExceeded) ||
		Is(err, ErrUnexpectedEndstop) ||
		Is(err, ErrAbort) ||
		Is(err, ErrInvalidSegment)
}
