package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// GatewayErrorKind distinguishes AI-gateway failure signals so callers can
// apply per-kind failure semantics (retry, drop, surface).
type GatewayErrorKind string

const (
	KindRateLimit GatewayErrorKind = "rate_limit"
	KindQuota     GatewayErrorKind = "quota_exhausted"
	KindTimeout   GatewayErrorKind = "timeout"
	KindServer    GatewayErrorKind = "server_error"
	KindClient    GatewayErrorKind = "client_error"
)

// GatewayError wraps an AI-gateway call failure with its classified kind.
// Rate limit, timeout and server errors are transient; quota exhaustion and
// client errors are not (retrying without operator action cannot help).
type GatewayError struct {
	Err        error
	Kind       GatewayErrorKind
	StatusCode int
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Transient reports whether retrying the same call may succeed.
func (e *GatewayError) Transient() bool {
	switch e.Kind {
	case KindRateLimit, KindTimeout, KindServer:
		return true
	default:
		return false
	}
}

// NewGatewayError classifies err under kind with an optional HTTP status.
func NewGatewayError(err error, kind GatewayErrorKind, statusCode int) *GatewayError {
	return &GatewayError{Err: err, Kind: kind, StatusCode: statusCode}
}

// KindForHTTPStatus maps a gateway HTTP status to an error kind.
func KindForHTTPStatus(statusCode int) GatewayErrorKind {
	switch statusCode {
	case 408, 504:
		return KindTimeout
	case 429:
		return KindRateLimit
	case 402:
		return KindQuota
	case 500, 502, 503:
		return KindServer
	default:
		return KindClient
	}
}

// GatewayKindOf reports the classified kind of an error chain, or
// ("", false) when no GatewayError is present.
func GatewayKindOf(err error) (GatewayErrorKind, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return "", false
}

// MalformedResponseError marks a structured gateway response that failed to
// parse. Not retried: re-sending the same prompt rarely fixes an unparseable
// response. The affected batch or check is dropped with a logged reason.
type MalformedResponseError struct {
	Unit string // batch or check identifier
	Err  error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response for %s: %v", e.Unit, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// OversizedInputError marks a document over the extraction byte ceiling.
// The document is skipped and reported; it is never silently truncated.
type OversizedInputError struct {
	DocumentID string
	SizeBytes  int64
	LimitBytes int64
}

func (e *OversizedInputError) Error() string {
	return fmt.Sprintf("document %s is %d bytes, over the %d byte limit",
		e.DocumentID, e.SizeBytes, e.LimitBytes)
}

// MissingPrerequisiteError marks an operation invoked before its inputs
// exist (e.g. validation with no documents). Surfaced immediately, no retry.
type MissingPrerequisiteError struct {
	Operation string
	Missing   string
}

func (e *MissingPrerequisiteError) Error() string {
	return fmt.Sprintf("%s: missing prerequisite: %s", e.Operation, e.Missing)
}

// IsTransient returns true if the error chain contains a transient
// GatewayError or matches common transient network patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
