package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// StatusOverloaded is the non-standard status some inference APIs return
// when they shed load. It is treated like 429.
const StatusOverloaded = 529

// TransientError marks an upstream failure that may succeed on retry.
// StatusCode is the HTTP status received, or 0 when no response arrived.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// retryableStatus lists the HTTP statuses a provider may return while
// healthy-but-busy.
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
	StatusOverloaded:               true,
}

// Upstream classifies a non-200 response. Busy statuses come back wrapped as
// *TransientError; everything else is returned as-is and treated as terminal.
func Upstream(err error, status int) error {
	if retryableStatus[status] {
		return NewTransientError(err, status)
	}
	return err
}

func transientStatus(err error) (int, bool) {
	var te *TransientError
	if errors.As(err, &te) {
		return te.StatusCode, true
	}
	return 0, false
}

// IsRateLimited reports whether err carries a 429-equivalent status.
func IsRateLimited(err error) bool {
	status, ok := transientStatus(err)
	return ok && (status == http.StatusTooManyRequests || status == StatusOverloaded)
}

// IsTransient reports any *TransientError in the chain, or a network failure
// that never produced a response.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := transientStatus(err); ok {
		return true
	}
	return isNetworkError(err)
}

// IsRetryableUpstream is the stricter predicate for providers where only
// rate limiting and missing responses are worth retrying. A 5xx is terminal.
func IsRetryableUpstream(err error) bool {
	if err == nil {
		return false
	}
	if status, ok := transientStatus(err); ok {
		return status == 0 || IsRateLimited(err)
	}
	return isNetworkError(err)
}

var (
	networkErrnos = []error{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED}

	// Substrings seen in HTTP client errors that lost their typed cause.
	networkPhrases = []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
)

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, errno := range networkErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, p := range networkPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
