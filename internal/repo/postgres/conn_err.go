package postgres

import (
	"errors"
	"io"
	"net"
	"strings"
)

// isConnErr is a best-effort classifier for errors that mean "the
// connection or pool is unusable right now" as opposed to a query or
// constraint failure. pgx wraps net.OpError and io.EOF for dropped
// connections and returns its own "closed pool" sentinel as a plain string,
// so this checks both typed errors and a couple of known substrings.
func isConnErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "closed pool") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "pool exhausted") ||
		strings.Contains(msg, "acquiring connection")
}
