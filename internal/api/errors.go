package api

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Error is a classified API failure decoded from a non-2xx response. The
// session controller inspects StatusCode, ErrorType, and Message to decide
// between deletion, expiry, and transient handling.
type Error struct {
	StatusCode int    `json:"-"`
	ErrorType  string `json:"error_type,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Message    string `json:"error,omitempty"`
}

func (e *Error) Error() string {
	if e.ErrorType != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.ErrorType, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// ErrMissingImageURL is returned when a lookup response carries no usable
// image_url field.
var ErrMissingImageURL = errors.New("image lookup response missing image_url")

// isTransient reports whether a transport error is worth retrying: the
// connection-level failures the backend's own retry decorator would also
// have absorbed, never an HTTP-level response.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "unexpected eof") ||
		strings.Contains(msg, "connection closed")
}
