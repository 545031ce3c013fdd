// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package providers

import (
	"errors"
	"fmt"
	"net"
)

// ErrTransient marks failures worth retrying: 5xx responses, timeouts,
// broken connections. Anything else is treated as permanent.
var ErrTransient = errors.New("providers: transient failure")

// transientStatus reports whether an HTTP status should be retried.
func transientStatus(code int) bool {
	return code >= 500 || code == 429
}

// classifyHTTPError wraps a transport-level error, tagging timeouts and
// connection failures as transient.
func classifyHTTPError(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsTransient reports whether err should be retried by the caller.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
