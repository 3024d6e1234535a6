package commonerrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCategory string

const (
	CategoryValidation     ErrorCategory = "VALIDATION"
	CategoryAuthentication ErrorCategory = "AUTHENTICATION"
	CategoryAuthorization  ErrorCategory = "AUTHORIZATION"
	CategoryNotFound       ErrorCategory = "NOT_FOUND"
	CategoryPersistence    ErrorCategory = "PERSISTENCE"
	CategoryDelivery       ErrorCategory = "DELIVERY"
	CategoryInternal       ErrorCategory = "INTERNAL"
	CategoryExternal       ErrorCategory = "EXTERNAL"
)

type DomainError interface {
	error
	Code() string
	Category() ErrorCategory
	HTTPStatus() int
	Message() string
	TraceID() string
	Unwrap() error
	WithCause(cause error) DomainError
	WithTraceID(traceID string) DomainError
	Is(target error) bool
}

type domainError struct {
	code     string
	category ErrorCategory
	status   int
	message  string
	traceID  string
	cause    error
}

func (e *domainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *domainError) Code() string {
	return e.code
}

func (e *domainError) Category() ErrorCategory {
	return e.category
}

func (e *domainError) HTTPStatus() int {
	return e.status
}

func (e *domainError) Message() string {
	return e.message
}

func (e *domainError) TraceID() string {
	return e.traceID
}

func (e *domainError) Unwrap() error {
	return e.cause
}

// Is matches any domain error carrying the same code, so a wrapped
// ErrNotAuthorized.WithCause(x) still satisfies errors.Is(err, ErrNotAuthorized).
func (e *domainError) Is(target error) bool {
	var de DomainError
	if !errors.As(target, &de) {
		return false
	}
	return de.Code() == e.code
}

func (e *domainError) WithCause(cause error) DomainError {
	return &domainError{
		code:     e.code,
		category: e.category,
		status:   e.status,
		message:  e.message,
		traceID:  e.traceID,
		cause:    cause,
	}
}

func (e *domainError) WithTraceID(traceID string) DomainError {
	return &domainError{
		code:     e.code,
		category: e.category,
		status:   e.status,
		message:  e.message,
		traceID:  traceID,
		cause:    e.cause,
	}
}

func NewDomainError(code string, category ErrorCategory, status int, message string) DomainError {
	return &domainError{
		code:     code,
		category: category,
		status:   status,
		message:  message,
	}
}

func IsDomainError(err error) bool {
	var de DomainError
	return errors.As(err, &de)
}

func AsDomainError(err error) (DomainError, bool) {
	var de DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func IsCategory(err error, category ErrorCategory) bool {
	de, ok := AsDomainError(err)
	return ok && de.Category() == category
}

var (
	ErrMissingRequiredEnv = NewDomainError(
		"MISSING_REQUIRED_ENV",
		CategoryValidation,
		http.StatusInternalServerError,
		"missing required environment variable",
	)

	ErrInvalidJWTSecret = NewDomainError(
		"INVALID_JWT_SECRET",
		CategoryValidation,
		http.StatusInternalServerError,
		"JWT_SECRET must be at least 32 bytes",
	)

	ErrInvalidConfig = NewDomainError(
		"INVALID_CONFIG",
		CategoryValidation,
		http.StatusInternalServerError,
		"invalid configuration value",
	)
)

var (
	ErrInvalidCredential = NewDomainError(
		"INVALID_CREDENTIAL",
		CategoryAuthentication,
		http.StatusUnauthorized,
		"invalid credential",
	)

	ErrCredentialExpired = NewDomainError(
		"CREDENTIAL_EXPIRED",
		CategoryAuthentication,
		http.StatusUnauthorized,
		"credential expired",
	)

	ErrAccountDisabled = NewDomainError(
		"ACCOUNT_DISABLED",
		CategoryAuthentication,
		http.StatusForbidden,
		"account disabled",
	)

	ErrAuthTimeout = NewDomainError(
		"AUTH_TIMEOUT",
		CategoryAuthentication,
		http.StatusUnauthorized,
		"authentication timed out",
	)

	ErrAuthRequired = NewDomainError(
		"AUTH_REQUIRED",
		CategoryAuthentication,
		http.StatusUnauthorized,
		"authentication required",
	)

	ErrGateUnavailable = NewDomainError(
		"AUTH_UNAVAILABLE",
		CategoryExternal,
		http.StatusServiceUnavailable,
		"authentication temporarily unavailable",
	)
)

var (
	ErrNotAuthorized = NewDomainError(
		"NOT_AUTHORIZED",
		CategoryAuthorization,
		http.StatusForbidden,
		"not a participant of this conversation",
	)

	ErrNotConversationAdmin = NewDomainError(
		"NOT_CONVERSATION_ADMIN",
		CategoryAuthorization,
		http.StatusForbidden,
		"only conversation admins can change participants",
	)

	ErrNotMessageSender = NewDomainError(
		"NOT_MESSAGE_SENDER",
		CategoryAuthorization,
		http.StatusForbidden,
		"only the sender can change this message",
	)

	ErrNotInConversationRoom = NewDomainError(
		"NOT_IN_CONVERSATION_ROOM",
		CategoryAuthorization,
		http.StatusForbidden,
		"join the conversation before sending typing events",
	)
)

var (
	ErrInvalidPayload = NewDomainError(
		"INVALID_PAYLOAD",
		CategoryValidation,
		http.StatusBadRequest,
		"invalid payload",
	)

	ErrUnknownMessageType = NewDomainError(
		"UNKNOWN_MESSAGE_TYPE",
		CategoryValidation,
		http.StatusBadRequest,
		"unknown message type",
	)

	ErrRateLimited = NewDomainError(
		"RATE_LIMITED",
		CategoryValidation,
		http.StatusTooManyRequests,
		"too many events",
	)

	ErrInvalidIdentifier = NewDomainError(
		"INVALID_ID",
		CategoryValidation,
		http.StatusBadRequest,
		"identifier must be non-empty and at most 64 characters",
	)
)

var (
	ErrPersistence = NewDomainError(
		"PERSISTENCE_ERROR",
		CategoryPersistence,
		http.StatusServiceUnavailable,
		"failed to persist change, retry the request",
	)

	ErrCircuitOpen = NewDomainError(
		"CIRCUIT_OPEN",
		CategoryPersistence,
		http.StatusServiceUnavailable,
		"circuit breaker is open",
	)

	ErrNotFound = NewDomainError(
		"NOT_FOUND",
		CategoryNotFound,
		http.StatusNotFound,
		"record not found",
	)
)

var (
	ErrDeliveryDegraded = NewDomainError(
		"DELIVERY_DEGRADED",
		CategoryDelivery,
		http.StatusServiceUnavailable,
		"recipient connection is not keeping up",
	)

	ErrServerBusy = NewDomainError(
		"SERVER_BUSY",
		CategoryExternal,
		http.StatusServiceUnavailable,
		"server is busy, retry later",
	)

	ErrConnectionClosed = NewDomainError(
		"CONNECTION_CLOSED",
		CategoryInternal,
		http.StatusGone,
		"connection closed",
	)

	ErrMarshalError = NewDomainError(
		"MARSHAL_ERROR",
		CategoryInternal,
		http.StatusInternalServerError,
		"failed to encode event",
	)

	ErrInternalError = NewDomainError(
		"INTERNAL_ERROR",
		CategoryInternal,
		http.StatusInternalServerError,
		"internal server error",
	)
)
