package myerrors

import (
	"errors"
	"fmt"
)

// Validation
var (
	ErrValidation         = errors.New("validation failed")
	ErrEmptyField         = errors.New("required field is empty")
	ErrInvalidLatitude    = errors.New("invalid latitude [-90, 90]")
	ErrInvalidLongitude   = errors.New("invalid longitude [-180, 180]")
	ErrInvalidCapturedAt  = errors.New("invalid capturedAt")
	ErrInvalidStatus      = errors.New("unknown delivery status")
	ErrInvalidPriority    = errors.New("priority must be between 1 and 10")
	ErrInvalidIssueType   = errors.New("unknown issue type")
	ErrInvalidAddress     = errors.New("maximum 255 characters allowed")
	ErrInvalidRadius      = errors.New("radius must be positive")
	ErrInvalidMeasurement = errors.New("accuracy, speed and heading must be finite and non-negative")
)

// Conflict
var (
	ErrConflict          = errors.New("conflict")
	ErrAlreadyAssigned   error = &conflictError{msg: "delivery already assigned"}
	ErrDriverBusy        error = &conflictError{msg: "driver already holds an active delivery"}
	ErrInvalidTransition = errors.New("invalid status transition")
)

type conflictError struct {
	msg string
}

func (e *conflictError) Error() string { return e.msg }

func (e *conflictError) Unwrap() error { return ErrConflict }

// Validationf wraps a validation detail so it matches both ErrValidation and the detail.
func Validationf(detail error) error {
	return fmt.Errorf("%w: %w", ErrValidation, detail)
}

// State
var (
	ErrVerificationRequired = errors.New("delivery requires a verified handoff code")
	ErrDeliveryNotActive    = errors.New("delivery is not active")
	ErrStaleSample          = errors.New("location sample is stale")
	ErrResendLimit          = errors.New("verification code resend limit reached")
	ErrHandoffNotStarted    = errors.New("delivery has not arrived at the dropoff")
)

// Not found
var (
	ErrDeliveryNotFound = errors.New("delivery not found")
	ErrNoLocation       = errors.New("no location recorded for delivery")
	ErrNoOpenCode       = errors.New("no open verification code")
)

// ErrInvalidCode is returned for every failed verification, whatever the cause.
var ErrInvalidCode = errors.New("invalid verification code")

// Access
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

var (
	ErrDBConnClosed    = errors.New("failed to connect to db")
	ErrDBConnClosedMsg = errors.New("internal error, please try again later")
)
