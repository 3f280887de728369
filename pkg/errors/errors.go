package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
// Code is stable and intended for programmatic handling by clients; Message is
// safe to display.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Meta       map[string]any `json:"meta,omitempty"`
	StatusCode int            `json:"-"`
	Internal   error          `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Is matches AppErrors by code, so annotated copies produced by WithMessage,
// WithMeta, or WithInternal still compare equal to their sentinel.
func (e *AppError) Is(target error) bool {
	other, ok := target.(*AppError)
	if !ok || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError with a replaced user-facing message.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// WithMeta returns a copy of the AppError with machine-readable metadata
// attached, e.g. starts_in_minutes on a premature join.
func (e *AppError) WithMeta(meta map[string]any) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Meta = meta
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrInvalidCredentials = &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "Invalid email or password",
		StatusCode: http.StatusUnauthorized,
	}

	ErrAccountLocked = &AppError{
		Code:       "ACCOUNT_LOCKED",
		Message:    "Account temporarily locked after repeated failures",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrRateLimit = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests, please slow down",
		StatusCode: http.StatusTooManyRequests,
	}
)

// Meeting admission and lifecycle rejections. Each carries the stable reason
// code the transport layer maps to responses.
var (
	ErrMeetingEnded = &AppError{
		Code:       "meeting.ended",
		Message:    "Meeting has already ended",
		StatusCode: http.StatusConflict,
	}

	ErrMeetingNotStarted = &AppError{
		Code:       "meeting.not_started",
		Message:    "Meeting has not started yet",
		StatusCode: http.StatusConflict,
	}

	ErrMeetingExpired = &AppError{
		Code:       "meeting.expired",
		Message:    "Meeting has exceeded its scheduled end time",
		StatusCode: http.StatusConflict,
	}

	ErrMeetingFull = &AppError{
		Code:       "meeting.full",
		Message:    "Meeting has reached maximum participants",
		StatusCode: http.StatusConflict,
	}

	ErrMeetingAlreadyEnded = &AppError{
		Code:       "meeting.already_ended",
		Message:    "Meeting was already ended",
		StatusCode: http.StatusConflict,
	}

	ErrMeetingOverlap = &AppError{
		Code:       "meeting.overlap",
		Message:    "You have another meeting scheduled during this time",
		StatusCode: http.StatusConflict,
	}

	ErrMeetingLimitReached = &AppError{
		Code:       "meeting.limit_reached",
		Message:    "You have reached the maximum number of active meetings",
		StatusCode: http.StatusConflict,
	}

	ErrParticipantBanned = &AppError{
		Code:       "participant.banned",
		Message:    "You have been banned from this meeting",
		StatusCode: http.StatusForbidden,
	}

	ErrAlreadyInMeeting = &AppError{
		Code:       "participant.already_in_meeting",
		Message:    "You are already in another active meeting",
		StatusCode: http.StatusConflict,
	}

	ErrParticipantNotPending = &AppError{
		Code:       "participant.not_pending",
		Message:    "Participant is not in the waiting room",
		StatusCode: http.StatusConflict,
	}

	ErrCoHostDuplicate = &AppError{
		Code:       "cohost.duplicate",
		Message:    "User is already a co-host",
		StatusCode: http.StatusConflict,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewValidation wraps validation failures with a helpful message.
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       "VALIDATION_ERROR",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}
