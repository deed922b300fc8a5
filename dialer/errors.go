// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package dialer

import (
	"errors"
	"fmt"
)

// ValidationError reports input rejected before any network call was made.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// PolicyError reports an operation refused by environment policy, such as
// registering the voice client from an insecure origin. Not retried.
type PolicyError struct {
	msg string
}

func (e *PolicyError) Error() string { return e.msg }

// TransportError wraps a network failure or a backend error response.
type TransportError struct {
	err error
}

func (e *TransportError) Error() string { return e.err.Error() }
func (e *TransportError) Unwrap() error { return e.err }

func transportError(err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{err: err}
}

// ErrNoActiveCall is returned by operations that require a live session.
var ErrNoActiveCall = errors.New("no active call")

// ErrClientNotReady is returned when a browser call is attempted before
// the voice client has registered.
var ErrClientNotReady = errors.New("voice client not ready yet")
