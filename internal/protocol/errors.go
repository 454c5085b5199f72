package protocol

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// Code ranges are part of the wire contract: clients match on the range, so a
// code is never reused and new kinds get a fresh code inside their range.
//
//	1xxx daemon, transport, handshake
//	2xxx timeouts, navigation, browser readiness
//	3xxx selector and DOM
//	4xxx filesystem and artifacts
//	5xxx input validation
//	9xxx internal
const (
	CodeDaemonNotRunning       = 1001
	CodeDaemonConnectionFailed = 1002
	CodeVersionMismatch        = 1003
	CodeDaemonAlreadyRunning   = 1004
	CodeDaemonShuttingDown     = 1005

	CodeNavigationTimeout   = 2001
	CodeNavigationFailed    = 2002
	CodePageNotReady        = 2003
	CodeExecuteTimeout      = 2004
	CodeBrowserNotInstalled = 2005
	CodeBrowserLaunchFailed = 2006
	CodeOperationTimeout    = 2007
	CodeExecuteFailed       = 2008

	CodeSelectorNotFound = 3001
	CodeSelectorInvalid  = 3002

	CodeFileNotFound    = 4001
	CodeFileWriteFailed = 4002
	CodeFileReadFailed  = 4003
	CodeWatchFailed     = 4004

	CodeInvalidRequest = 5001
	CodeMissingParam   = 5002
	CodeInvalidParam   = 5003
	CodeUnknownMethod  = 5004

	CodeInternal          = 9001
	CodeDimensionMismatch = 9002
)

// Category names, one per code range.
const (
	CategoryDaemon     = "daemon"
	CategoryBrowser    = "browser"
	CategorySelector   = "selector"
	CategoryFilesystem = "filesystem"
	CategoryValidation = "validation"
	CategoryInternal   = "internal"
)

// Error is the structured failure carried in a Failure envelope.
type Error struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Data    ErrorData `json:"data"`
}

// ErrorData holds the machine-actionable part of an Error.
type ErrorData struct {
	Category   string `json:"category"`
	Retryable  bool   `json:"retryable"`
	Param      string `json:"param,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// Option adjusts an Error at construction.
type Option func(*Error)

// WithParam names the offending request parameter.
func WithParam(p string) Option {
	return func(e *Error) { e.Data.Param = p }
}

// WithSuggestion attaches a human-actionable next step.
func WithSuggestion(s string) Option {
	return func(e *Error) { e.Data.Suggestion = s }
}

// WithRetryable overrides the code's default retryability.
func WithRetryable(r bool) Option {
	return func(e *Error) { e.Data.Retryable = r }
}

// NewError builds an Error, deriving category and retryability from the code.
func NewError(code int, message string, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: message,
		Data: ErrorData{
			Category:  CategoryFor(code),
			Retryable: retryableByDefault(code),
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CategoryFor maps a code to its range category.
func CategoryFor(code int) string {
	switch code / 1000 {
	case 1:
		return CategoryDaemon
	case 2:
		return CategoryBrowser
	case 3:
		return CategorySelector
	case 4:
		return CategoryFilesystem
	case 5:
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

func retryableByDefault(code int) bool {
	switch code {
	case CodeDaemonConnectionFailed, CodeDaemonShuttingDown,
		CodeNavigationTimeout, CodeNavigationFailed,
		CodeExecuteTimeout, CodeBrowserLaunchFailed, CodeOperationTimeout:
		return true
	}
	return false
}

// InvalidRequest reports an unparseable or malformed frame.
func InvalidRequest(format string, args ...any) *Error {
	return NewError(CodeInvalidRequest, fmt.Sprintf(format, args...),
		WithSuggestion("send one JSON object per line with id, method and params"))
}

// MissingParam reports a required parameter that was not supplied.
func MissingParam(param string) *Error {
	return NewError(CodeMissingParam, fmt.Sprintf("missing required parameter %q", param), WithParam(param))
}

// InvalidParam reports a parameter with an unacceptable value.
func InvalidParam(param, format string, args ...any) *Error {
	return NewError(CodeInvalidParam, fmt.Sprintf(format, args...), WithParam(param))
}

// UnknownMethod reports a method with no handler.
func UnknownMethod(method string) *Error {
	return NewError(CodeUnknownMethod, fmt.Sprintf("unknown method %q", method),
		WithParam("method"),
		WithSuggestion("run `canvas --help` to list supported commands"))
}

// PageNotReady reports a capability call without an active session.
func PageNotReady() *Error {
	return NewError(CodePageNotReady, "no page is connected",
		WithSuggestion("run `canvas connect <url>` first"))
}

// Internal reports an unexpected daemon-side failure.
func Internal(format string, args ...any) *Error {
	return NewError(CodeInternal, fmt.Sprintf(format, args...))
}

// FromError converts an arbitrary error into an Error. Errors that already
// are *Error pass through unchanged.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(CodeOperationTimeout, err.Error())
	case errors.Is(err, fs.ErrNotExist):
		return NewError(CodeFileNotFound, err.Error())
	case errors.Is(err, fs.ErrPermission):
		return NewError(CodeFileWriteFailed, err.Error(),
			WithSuggestion("check permissions on the .canvas directory"))
	}
	return Internal("%v", err)
}
