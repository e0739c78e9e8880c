package service

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// IsRetryableError reports whether a payout rail failure is transient and
// worth another attempt on a later sweep
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return isRetryableNetworkError(err) || isRetryableSystemError(err) || isRetryableMessage(err)
}

func isRetryableNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func isRetryableSystemError(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

func isRetryableMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"timeout", "rate limit", "temporarily unavailable", "connection reset"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
