// Package protocol defines the wire contract of the swarm coordinator:
// the request shape, the single-line response envelope, and the closed
// error taxonomy with stable codes and exit codes.
package protocol

import (
	"errors"
	"fmt"
)

// Stable protocol error codes.
const (
	CodeCLIError     = "CLI_ERROR"
	CodeExists       = "EXISTS"
	CodeNotFound     = "NOTFOUND"
	CodeInvalid      = "INVALID"
	CodeConflict     = "CONFLICT"
	CodeBusy         = "BUSY"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeDependency   = "DEPENDENCY"
	CodeTimeout      = "TIMEOUT"
	CodeInternal     = "INTERNAL"
)

// Kind classifies a failure. The set is closed; every kind maps to a
// stable code string and a non-zero process exit code.
type Kind int

// Error kinds.
const (
	KindCLI Kind = iota + 1
	KindConfig
	KindStore
	KindWorker
	KindBead
	KindStage
	KindDependency
	KindSerialization
	KindInternal
	KindExists
	KindBusy
	KindUnauthorized
	KindTimeout
)

// Kinds lists every error kind, for exhaustive tests.
var Kinds = []Kind{
	KindCLI, KindConfig, KindStore, KindWorker, KindBead, KindStage,
	KindDependency, KindSerialization, KindInternal, KindExists,
	KindBusy, KindUnauthorized, KindTimeout,
}

// Code returns the stable protocol code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindCLI:
		return CodeCLIError
	case KindConfig, KindSerialization:
		return CodeInvalid
	case KindStore, KindInternal:
		return CodeInternal
	case KindWorker, KindStage:
		return CodeConflict
	case KindBead:
		return CodeNotFound
	case KindDependency:
		return CodeDependency
	case KindTimeout:
		return CodeTimeout
	case KindExists:
		return CodeExists
	case KindBusy:
		return CodeBusy
	case KindUnauthorized:
		return CodeUnauthorized
	default:
		return CodeInternal
	}
}

// ExitCode returns the process exit code for the kind. Zero is
// reserved for success and is never returned here.
func (k Kind) ExitCode() int {
	switch k {
	case KindCLI:
		return 1
	case KindConfig:
		return 2
	case KindStore:
		return 3
	case KindWorker, KindExists, KindBusy, KindUnauthorized:
		return 4
	case KindBead:
		return 5
	case KindStage:
		return 6
	case KindDependency, KindTimeout:
		return 7
	case KindSerialization:
		return 8
	default:
		return 9
	}
}

// Error is the one error type that crosses package boundaries. It
// carries the taxonomy kind, a human message, and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the stable protocol code for this error.
func (e *Error) Code() string { return e.Kind.Code() }

// ExitCode returns the non-zero process exit code for this error.
func (e *Error) ExitCode() int { return e.Kind.ExitCode() }

// New returns an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// AsError extracts a protocol Error from err, converting foreign
// errors into KindInternal so no path escapes the taxonomy.
func AsError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return &Error{Kind: KindInternal, Msg: err.Error(), Err: err}
}

// CodeDoc describes one protocol code for the help command.
type CodeDoc struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Fix  string `json:"fix"`
}

// ErrorCodes documents every protocol code with a remediation hint.
var ErrorCodes = []CodeDoc{
	{CodeCLIError, "Invalid CLI usage", "Run 'swarm --help' for valid options"},
	{CodeExists, "Resource already exists", "Use different identifier or delete existing resource"},
	{CodeNotFound, "Resource was not found", "List resources and verify identifier"},
	{CodeInvalid, "Invalid request payload", "Validate JSON syntax and ensure all required fields are present"},
	{CodeConflict, "Conflicting state transition", "Send {\"cmd\":\"state\"} to inspect current status"},
	{CodeBusy, "Resource is temporarily locked", "Retry after lock TTL expires"},
	{CodeUnauthorized, "Operation not authorized", "Use valid agent identity"},
	{CodeDependency, "Missing system dependency", "Install required binary and retry"},
	{CodeTimeout, "Operation timed out", "Increase timeout and retry"},
	{CodeInternal, "Unexpected internal failure", "Inspect logs and retry command"},
}

// FixFor returns the documented remediation hint for a code, or a
// generic hint when the code is unknown.
func FixFor(code string) string {
	for _, doc := range ErrorCodes {
		if doc.Code == code {
			return doc.Fix
		}
	}
	return "Send {\"cmd\":\"?\"} for the command index"
}
