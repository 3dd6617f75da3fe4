package reliability

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the coarse failure class every component boundary translates its
// low-level errors into.
type Kind string

const (
	KindStorage       Kind = "storage_write_failure"
	KindTransport     Kind = "transport_failure"
	KindOutOfProtocol Kind = "out_of_protocol_action"
	KindNoSentences   Kind = "no_sentences_available"
	KindCorpusMissing Kind = "corpus_file_missing"
)

// Error carries a Kind plus the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// RetryAfter is a server-specified wait for rate-limited transport calls.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Storage wraps err as a storage write failure. A nil err stays nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// Transport wraps err as a transport failure. A nil err stays nil.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// RateLimited is a transport failure the server asked us to back off from.
func RateLimited(op string, wait time.Duration, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err, RetryAfter: wait}
}

// OutOfProtocol reports an action that is not legal in the current state.
func OutOfProtocol(op, detail string) error {
	return &Error{Kind: KindOutOfProtocol, Op: op, Err: errors.New(detail)}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RetryAfterOf returns the server-specified wait carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
