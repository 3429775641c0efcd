package crawl

import (
	"errors"
	"fmt"
)

// RetryableError marks a rate-limit class failure: the node's pagination can
// be restarted from page 0 after the level's retry delay.
type RetryableError struct {
	Reason string
	Err    error
}

func (e *RetryableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as a rate-limit class failure
func Retryable(reason string, err error) error {
	return &RetryableError{Reason: reason, Err: err}
}

// TerminalError marks an unrecoverable failure: malformed target, invalid
// deeplink, or a transport fault no retry can fix. The node's run ends
// immediately.
type TerminalError struct {
	Reason string
	Err    error
}

func (e *TerminalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err as an unrecoverable failure
func Terminal(reason string, err error) error {
	return &TerminalError{Reason: reason, Err: err}
}

// IsRetryable reports whether err is a rate-limit class failure
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsTerminal reports whether err is an unrecoverable failure
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}
