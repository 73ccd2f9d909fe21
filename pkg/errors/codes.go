package errors

import "net/http"

// Code is the coarse error category; it decides the HTTP status.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeTimeout       Code = "TIMEOUT"
)

// Reason narrows a Code to a machine-readable cause that callers can branch on.
type Reason string

const (
	ReasonNoActiveReservation  Reason = "no_active_reservation"
	ReasonDuplicateActiveOrder Reason = "duplicate_active_order"
	ReasonAmountMismatch       Reason = "amount_mismatch"
	ReasonInvalidConfiguration Reason = "invalid_configuration"
	ReasonInvalidSignature     Reason = "invalid_signature"
	ReasonInsufficientCapacity Reason = "insufficient_capacity"
	ReasonIllegalTransition    Reason = "illegal_transition"
	ReasonTerminalConflict     Reason = "terminal_conflict"
	ReasonTimeout              Reason = "timeout"
	ReasonTokenExpired         Reason = "token_expired"
)

// Metadata is how a Code surfaces over HTTP.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

type flag uint8

const (
	retryable flag = 1 << iota
	withDetails
)

func entry(status int, msg string, flags flag) Metadata {
	return Metadata{
		HTTPStatus:     status,
		PublicMessage:  msg,
		Retryable:      flags&retryable != 0,
		DetailsAllowed: flags&withDetails != 0,
	}
}

var codeTable = map[Code]Metadata{
	CodeValidation:    entry(http.StatusBadRequest, "validation failed", withDetails),
	CodeUnauthorized:  entry(http.StatusUnauthorized, "authentication required", 0),
	CodeForbidden:     entry(http.StatusForbidden, "access denied", 0),
	CodeNotFound:      entry(http.StatusNotFound, "resource not found", 0),
	CodeConflict:      entry(http.StatusConflict, "conflict detected", withDetails),
	CodeStateConflict: entry(http.StatusUnprocessableEntity, "state transition disallowed", withDetails),
	CodeIdempotency:   entry(http.StatusConflict, "idempotency key reused", withDetails),
	CodeRateLimit:     entry(http.StatusTooManyRequests, "rate limit exceeded", 0),
	CodeInternal:      entry(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:    entry(http.StatusServiceUnavailable, "dependency unavailable", retryable|withDetails),
	CodeTimeout:       entry(http.StatusGatewayTimeout, "request timed out", retryable),
}

// MetadataFor returns the HTTP mapping for code; unknown codes map as internal.
func MetadataFor(code Code) Metadata {
	if meta, ok := codeTable[code]; ok {
		return meta
	}
	return codeTable[CodeInternal]
}
