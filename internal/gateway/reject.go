package gateway

import "net/http"

// Reason classifies why a request was rejected. Every failure on the lookup
// path collapses into one of these; the mapping to status codes and messages
// lives here and nowhere else.
type Reason int

const (
	ReasonBadFormat Reason = iota
	ReasonUnauthorized
	ReasonPaused
	ReasonQuotaExceeded
	ReasonRateLimited
	ReasonUpstream
	ReasonInternal
)

// Status returns the HTTP status for a rejection reason.
func (r Reason) Status() int {
	switch r {
	case ReasonBadFormat:
		return http.StatusBadRequest
	case ReasonRateLimited, ReasonQuotaExceeded:
		return http.StatusTooManyRequests
	case ReasonPaused:
		return http.StatusForbidden
	case ReasonUnauthorized:
		return http.StatusUnauthorized
	case ReasonUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the short human-readable body for a rejection. Messages are
// deliberately generic: no upstream detail, no queries, no stack text.
func (r Reason) Message() string {
	switch r {
	case ReasonBadFormat:
		return "number must be a 10-digit mobile number"
	case ReasonRateLimited:
		return "rate limit exceeded, slow down"
	case ReasonQuotaExceeded:
		return "daily quota exceeded"
	case ReasonPaused:
		return "API key is paused"
	case ReasonUnauthorized:
		return "invalid or expired API key"
	case ReasonUpstream:
		return "lookup service temporarily unavailable"
	default:
		return "internal server error"
	}
}
