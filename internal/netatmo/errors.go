package netatmo

import (
	"errors"
	"fmt"
)

// Kind classifies failures of the cloud client so that callers can decide
// between retrying and giving up.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfig covers a missing or broken token file and bad credentials.
	KindConfig
	// KindAuth means the token endpoint refused or failed a refresh.
	KindAuth
	// KindNetwork covers transport errors, timeouts and non-2xx statuses.
	KindNetwork
	// KindProtocol means the body was oversized or not valid JSON.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every operation in this package.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("netatmo %s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("netatmo %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func configError(op string, err error) error {
	return &Error{Kind: KindConfig, Op: op, Err: err}
}

func authError(op string, err error) error {
	return &Error{Kind: KindAuth, Op: op, Err: err}
}

func networkError(op string, err error) error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

func protocolError(op string, err error) error {
	return &Error{Kind: KindProtocol, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether a poll cycle that failed with err may be
// attempted again. Only configuration problems are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != KindConfig
}
