package provider

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies a provider failure for retry purposes.
type ErrorKind string

const (
	KindUnknown            ErrorKind = "unknown"
	KindRateLimit          ErrorKind = "rate_limit"
	KindConnection         ErrorKind = "connection"
	KindInternalServer     ErrorKind = "internal_server"
	KindProviderConnection ErrorKind = "provider_connection"
	KindInvalidRequest     ErrorKind = "invalid_request"
	KindAuth               ErrorKind = "auth"
)

// Transient reports whether a failure of this kind should be masked by
// retry before the caller ever sees it.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindRateLimit, KindConnection, KindInternalServer, KindProviderConnection:
		return true
	}
	return false
}

// Error is a classified provider failure. Adapters wrap SDK errors in it so
// the retry wrapper does not need provider-specific knowledge.
type Error struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a classification.
func NewError(providerName string, kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Provider: providerName, Err: err}
}

// ClassifyStatus maps an HTTP status code to an error kind.
func ClassifyStatus(code int) ErrorKind {
	switch {
	case code == 429:
		return KindRateLimit
	case code == 401 || code == 403:
		return KindAuth
	case code == 408:
		return KindConnection
	case code == 529:
		// Anthropic "overloaded" responses
		return KindProviderConnection
	case code >= 500:
		return KindInternalServer
	case code >= 400:
		return KindInvalidRequest
	}
	return KindUnknown
}

// Classify determines the kind of an arbitrary error. Already-classified
// errors keep their kind; net-level failures count as connection errors;
// the rest falls back to message matching.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return KindConnection
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return KindRateLimit
	case strings.Contains(msg, "econnreset"),
		strings.Contains(msg, "etimedout"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "eof"):
		return KindConnection
	case strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "connection error"):
		return KindProviderConnection
	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"),
		strings.Contains(msg, "internal server"):
		return KindInternalServer
	}
	return KindUnknown
}
