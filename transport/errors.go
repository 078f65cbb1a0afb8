package transport

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Kind classifies a transport failure.
type Kind int

const (
	// KindUnreachable means no response was received at all.
	KindUnreachable Kind = iota + 1
	// KindHTTP means a non-2xx response without a usable error body.
	KindHTTP
	// KindDomain means the authority rejected the request with a structured error.
	KindDomain
)

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindHTTP:
		return "http_failure"
	case KindDomain:
		return "domain"
	default:
		return "unknown"
	}
}

// Domain error codes emitted by the authority.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeAlreadyBorrowed = "ALREADY_BORROWED"
	CodeUnavailable     = "BOOK_UNAVAILABLE"
	CodeAlreadyReturned = "LOAN_ALREADY_RETURNED"
	CodeValidation      = "VALIDATION_ERROR"
	CodeAuthMissing     = "AUTH_MISSING"
	CodeAuthInvalid     = "AUTH_INVALID"
	CodeAuthExpired     = "AUTH_EXPIRED"
	CodeAuthForbidden   = "AUTH_FORBIDDEN"
	CodeForbidden       = "FORBIDDEN"
)

// Error is the normalized failure produced by Client.Do.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Details map[string]any
	Cause   error
}

// Sentinels for errors.Is. Kind sentinels match any error of that kind; code
// sentinels additionally require the same domain code.
var (
	ErrUnreachable     = &Error{Kind: KindUnreachable}
	ErrHTTPFailure     = &Error{Kind: KindHTTP}
	ErrDomain          = &Error{Kind: KindDomain}
	ErrNotFound        = &Error{Kind: KindDomain, Code: CodeNotFound}
	ErrAlreadyBorrowed = &Error{Kind: KindDomain, Code: CodeAlreadyBorrowed}
	ErrUnavailable     = &Error{Kind: KindDomain, Code: CodeUnavailable}
	ErrAlreadyReturned = &Error{Kind: KindDomain, Code: CodeAlreadyReturned}
	ErrForbidden       = &Error{Kind: KindDomain, Code: CodeAuthForbidden}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Status > 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Code != "" {
		b.WriteString(" ")
		b.WriteString(e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a sentinel (or template) matching this error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	if t.Status != 0 && t.Status != e.Status {
		return false
	}
	return true
}

// AsError unwraps err into a *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// DomainCode returns the authority error code carried by err, or "".
func DomainCode(err error) string {
	if e, ok := AsError(err); ok && e.Kind == KindDomain {
		return e.Code
	}
	return ""
}

// UserMessage builds the inline message a view shows for err.
func UserMessage(err error) string {
	e, ok := AsError(err)
	if !ok {
		if err == nil {
			return ""
		}
		return err.Error()
	}
	switch e.Kind {
	case KindUnreachable:
		return "Unable to reach the server. Check your connection."
	case KindDomain:
		if e.Message != "" {
			return e.Message
		}
		return e.Code
	default:
		if e.Status == 0 && e.Message != "" {
			return e.Message
		}
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
}

type errorEnvelope struct {
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

func unreachable(cause error) *Error {
	return &Error{
		Kind:    KindUnreachable,
		Code:    "NETWORK_ERROR",
		Message: "unable to reach the server",
		Cause:   cause,
	}
}

func httpFailure(status int, cause error) *Error {
	return &Error{
		Kind:    KindHTTP,
		Status:  status,
		Code:    "HTTP_ERROR",
		Message: fmt.Sprintf("request failed with status %d", status),
		Cause:   cause,
	}
}

// requestFailure reports a request that could not be sent at all. It carries
// KindHTTP with no status, since the authority never saw it.
func requestFailure(msg string, cause error) *Error {
	return &Error{
		Kind:    KindHTTP,
		Code:    "REQUEST_ERROR",
		Message: msg,
		Cause:   cause,
	}
}

// decodeFailure turns a non-2xx body into a domain error, falling back to an
// HTTP failure when the body is missing or malformed.
func decodeFailure(status int, body []byte) *Error {
	if len(body) == 0 {
		return httpFailure(status, nil)
	}
	var env errorEnvelope
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(body, &env); err != nil {
		return httpFailure(status, nil)
	}
	if env.Error == nil || env.Error.Code == "" {
		return httpFailure(status, nil)
	}
	return &Error{
		Kind:    KindDomain,
		Status:  status,
		Code:    env.Error.Code,
		Message: env.Error.Message,
		Details: env.Error.Details,
	}
}
