package driver

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// IsLikelyConnectionError checks if an error indicates a connection
// problem that warrants a reconnection attempt rather than a retry of
// the same request.
func IsLikelyConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Wrapped errors from the transport layer lose their type; fall
	// back to message matching.
	msg := strings.ToLower(err.Error())
	for _, keyword := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"use of closed network connection",
		"i/o timeout",
		"no route to host",
		"network is unreachable",
		"eof",
		"not connected",
	} {
		if strings.Contains(msg, keyword) {
			return true
		}
	}

	return false
}
