// Package errors provides the structured error type shared by the template
// engine, the lookup layer and the CLI.
//
// A ViewError carries a category, a stable code and the identity of the
// template it concerns (identifier, virtual path and line), so that every
// failure surfacing from the engine can be traced back to a template.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeEncoding ErrorType = "encoding"
	ErrorTypeCompile  ErrorType = "compile"
	ErrorTypeRender   ErrorType = "render"
	ErrorTypeRefresh  ErrorType = "refresh"
	ErrorTypeLookup   ErrorType = "lookup"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeEncoding          = "ERR_ENCODING"
	ErrCodeCompileFailed     = "ERR_COMPILE_FAILED"
	ErrCodeRegistration      = "ERR_REGISTRATION_FAILED"
	ErrCodeRenderFailed      = "ERR_RENDER_FAILED"
	ErrCodeRefreshNoPath     = "ERR_REFRESH_NO_PATH"
	ErrCodeTemplateNotFound  = "ERR_TEMPLATE_NOT_FOUND"
	ErrCodeTemplateEvicted   = "ERR_TEMPLATE_EVICTED"
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeInternalError     = "ERR_INTERNAL"
	ErrCodeHandlerNotDefined = "ERR_HANDLER_NOT_DEFINED"
)

// ViewError is a structured error type with template context.
type ViewError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Identifier  string
	VirtualPath string
	Line        int
	Recoverable bool
}

// Error implements the error interface.
func (e *ViewError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.VirtualPath != "" {
		parts = append(parts, "template:"+e.VirtualPath)
	}

	if e.Identifier != "" {
		location := e.Identifier
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *ViewError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *ViewError) Is(target error) bool {
	var t *ViewError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *ViewError) WithContext(key string, value interface{}) *ViewError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithTemplate records which template the error concerns.
func (e *ViewError) WithTemplate(identifier, virtualPath string) *ViewError {
	e.Identifier = identifier
	e.VirtualPath = virtualPath

	return e
}

// WithLine adds the template line the error was raised from.
func (e *ViewError) WithLine(line int) *ViewError {
	e.Line = line

	return e
}

// NewEncodingError creates an error for template source that is not valid
// text in its declared encoding.
func NewEncodingError(message string, cause error) *ViewError {
	return &ViewError{
		Type:        ErrorTypeEncoding,
		Code:        ErrCodeEncoding,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewCompileError creates a code generation or registration error.
func NewCompileError(code, message string, cause error) *ViewError {
	return &ViewError{
		Type:        ErrorTypeCompile,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewRefreshError creates a refresh error.
func NewRefreshError(code, message string) *ViewError {
	return &ViewError{
		Type:        ErrorTypeRefresh,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewLookupError creates a template resolution error.
func NewLookupError(code, message string, cause error) *ViewError {
	return &ViewError{
		Type:        ErrorTypeLookup,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *ViewError {
	return &ViewError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *ViewError {
	return &ViewError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var ve *ViewError
	if errors.As(err, &ve) {
		return ve.Recoverable
	}

	return false
}

func isType(err error, typ ErrorType) bool {
	var ve *ViewError
	if errors.As(err, &ve) {
		return ve.Type == typ
	}

	return false
}

// IsEncodingError checks if an error was caused by badly encoded source.
func IsEncodingError(err error) bool { return isType(err, ErrorTypeEncoding) }

// IsCompileError checks if an error comes from code generation or registration.
func IsCompileError(err error) bool { return isType(err, ErrorTypeCompile) }

// IsRefreshError checks if an error comes from a refresh attempt.
func IsRefreshError(err error) bool { return isType(err, ErrorTypeRefresh) }

// IsLookupError checks if an error comes from template resolution.
func IsLookupError(err error) bool { return isType(err, ErrorTypeLookup) }

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at a level matching its category.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var ve *ViewError
	if !errors.As(err, &ve) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	fields := []interface{}{
		"type", ve.Type,
		"code", ve.Code,
		"identifier", ve.Identifier,
		"virtual_path", ve.VirtualPath,
	}
	if ve.Line > 0 {
		fields = append(fields, "line", ve.Line)
	}

	switch ve.Type {
	case ErrorTypeLookup, ErrorTypeConfig:
		h.logger.Warn(ctx, err, "Template error occurred", fields...)
	default:
		h.logger.Error(ctx, err, "Template error occurred", fields...)
	}
}

// ErrTemplateNotFound creates a template not found error.
func ErrTemplateNotFound(path string, prefixes []string) *ViewError {
	return NewLookupError(
		ErrCodeTemplateNotFound,
		fmt.Sprintf("missing template %s in [%s]", path, strings.Join(prefixes, ", ")),
		nil,
	).WithContext("prefixes", prefixes)
}
