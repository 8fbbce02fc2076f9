package retrier

import (
	"context"
	"errors"
	"net"
)

// Temporary indicates if an error condition is temporary and may succeed if retried.
type Temporary interface {
	Temporary() bool
}

// IsTemporary reports whether err is worth retrying: explicit Temporary errors and network timeouts are,
// context cancellation is not.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var temp Temporary
	if errors.As(err, &temp) {
		return temp.Temporary()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
