package policy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// IsConnectionFailure reports whether err means the server could not be reached at all:
// name resolution failed or the connection was refused.
func IsConnectionFailure(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

// IsTimeout reports whether err is a dial, read or context deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// FormatResult renders a reply for a job's detail. Lists are joined with ", ".
func FormatResult(reply any) string {
	switch r := reply.(type) {
	case nil:
		return ""
	case string:
		return r
	case []string:
		return strings.Join(r, ", ")
	case []any:
		parts := make([]string, len(r))
		for i, v := range r {
			parts[i] = fmt.Sprint(v)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(r)
	}
}
