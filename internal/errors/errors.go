package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource conflict")
	ErrBadRequest     = errors.New("bad request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternalServer = errors.New("internal server error")
	ErrUpstream       = errors.New("upstream unavailable")

	// Business errors
	ErrNoDriversAvailable    = errors.New("no drivers available")
	ErrRideNoLongerAvailable = errors.New("ride no longer available")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrRiderHasActiveRide    = errors.New("rider already has an active ride")
	ErrDriverHasActiveRide   = errors.New("driver already has an active ride")
	ErrNotRideParty          = errors.New("actor is not a party to this ride")
	ErrNotAlertOwner         = errors.New("actor did not trigger this alert")
)

// APIError represents a structured API error
type APIError struct {
	Code       string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

// NewAPIError creates a new API error
func NewAPIError(code, message string, statusCode int) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Common API errors
func NotFound(resource string) *APIError {
	return NewAPIError("not_found", fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func BadRequest(message string) *APIError {
	return NewAPIError("validation_error", message, http.StatusBadRequest)
}

func Conflict(message string) *APIError {
	return NewAPIError("conflict", message, http.StatusConflict)
}

func InternalError(message string) *APIError {
	return NewAPIError("internal_error", message, http.StatusInternalServerError)
}

func Unauthorized(message string) *APIError {
	return NewAPIError("authorization_error", message, http.StatusForbidden)
}

func UpstreamUnavailable(upstream string) *APIError {
	return NewAPIError("upstream_unavailable", fmt.Sprintf("%s is unreachable", upstream), http.StatusServiceUnavailable)
}

func RateLimited() *APIError {
	return NewAPIError("rate_limited", "too many requests, please try again later", http.StatusTooManyRequests)
}

func NoDriversAvailable() *APIError {
	return NewAPIError("no_drivers_available", "no drivers available in your area", http.StatusServiceUnavailable)
}

// RideNoLongerAvailable is the non-alarming signal a losing driver receives
// when another driver wins the acceptance race. A conflict, not a fault.
func RideNoLongerAvailable() *APIError {
	return NewAPIError("ride_no_longer_available", "this ride has already been taken", http.StatusConflict)
}

func InvalidTransition(from, to string) *APIError {
	return NewAPIError("invalid_status_transition", fmt.Sprintf("cannot transition from %s to %s", from, to), http.StatusConflict)
}

func RiderHasActiveRide() *APIError {
	return NewAPIError("active_ride_exists", "you already have an active ride", http.StatusConflict)
}

func DriverHasActiveRide() *APIError {
	return NewAPIError("driver_busy", "driver already has an active ride", http.StatusConflict)
}

func NotRideParty() *APIError {
	return NewAPIError("authorization_error", "you are not a party to this ride", http.StatusForbidden)
}

func CancelInProgressRejected() *APIError {
	return NewAPIError("invalid_status_transition", "a ride in progress cannot be cancelled", http.StatusConflict)
}
