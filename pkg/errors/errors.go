// Package errors defines the API error type. Every AppError carries a
// stable code for clients, an HTTP status and an i18n key that is
// resolved against the request locale when the error is written.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dispatchrx/dispatchrx-backend/pkg/i18n"
)

// Sentinels for errors.Is checks across layers
var (
	ErrNotFound      = errors.New("resource not found")
	ErrBadRequest    = errors.New("bad request")
	ErrConflict      = errors.New("resource conflict")
	ErrInternal      = errors.New("internal server error")
	ErrValidation    = errors.New("validation error")
	ErrUnprocessable = errors.New("unprocessable entity")
)

// AppError is an error with a client-facing code and localizable message
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	MessageKey string            `json:"-"`
	Params     map[string]string `json:"-"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil && !isSentinel(e.Err) {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func isSentinel(err error) bool {
	switch err {
	case ErrNotFound, ErrBadRequest, ErrConflict, ErrInternal, ErrValidation, ErrUnprocessable:
		return true
	}
	return false
}

// Localize renders the message in the locale carried by ctx
func (e *AppError) Localize(ctx context.Context) string {
	return e.LocalizeWith(i18n.LocalizerFromContext(ctx))
}

// LocalizeWith renders the message with a specific localizer
func (e *AppError) LocalizeWith(l *i18n.Localizer) string {
	if e.MessageKey == "" {
		return e.Message
	}
	return l.T(e.MessageKey, e.Params)
}

// WithKey localizes the error through messageKey instead of the generic
// key of its constructor
func (e *AppError) WithKey(messageKey string, params map[string]string) *AppError {
	e.MessageKey = messageKey
	e.Params = params
	e.Message = i18n.T(messageKey, params)
	return e
}

// WithDetails adds per-field details
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// kind is the fixed part of each constructor
type kind struct {
	sentinel error
	code     string
	key      string
	status   int
}

var (
	kindNotFound   = kind{ErrNotFound, "NOT_FOUND", "errors.not_found", http.StatusNotFound}
	kindBadRequest = kind{ErrBadRequest, "BAD_REQUEST", "errors.bad_request", http.StatusBadRequest}
	kindConflict   = kind{ErrConflict, "CONFLICT", "errors.conflict", http.StatusConflict}
	kindInternal   = kind{ErrInternal, "INTERNAL_ERROR", "errors.internal", http.StatusInternalServerError}
	kindValidation = kind{ErrValidation, "VALIDATION_ERROR", "errors.validation_failed", http.StatusBadRequest}
)

func (k kind) new(message string) *AppError {
	return &AppError{
		Err:        k.sentinel,
		Code:       k.code,
		Message:    message,
		MessageKey: k.key,
		StatusCode: k.status,
	}
}

// New creates an AppError without an i18n key
func New(code string, message string, statusCode int) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCode}
}

// NewWithKey creates an AppError whose message comes from messageKey
func NewWithKey(code string, messageKey string, statusCode int, params map[string]string) *AppError {
	return New(code, "", statusCode).WithKey(messageKey, params)
}

// Wrap attaches a code and status to an underlying error
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{Err: err, Code: code, Message: message, StatusCode: statusCode}
}

// NotFoundWithKey reports a missing resource named by resources.<resourceKey>
func NotFoundWithKey(resourceKey string) *AppError {
	name := i18n.T("resources." + resourceKey)
	e := kindNotFound.new(name + " not found")
	e.Params = map[string]string{"resource": name}
	return e
}

func BadRequest(message string) *AppError { return kindBadRequest.new(message) }

func Conflict(message string) *AppError { return kindConflict.new(message) }

func Internal(message string) *AppError { return kindInternal.new(message) }

// Validation reports field errors; details map a JSON path to its problem
func Validation(details map[string]string) *AppError {
	return kindValidation.new("validation failed").WithDetails(details)
}

// ScanRejected builds the operator-facing error for a rejected scan.
// The reason becomes both the error code suffix and the i18n key.
func ScanRejected(reason string, params map[string]string) *AppError {
	e := Wrap(ErrUnprocessable, "SCAN_"+strings.ToUpper(reason), "", http.StatusUnprocessableEntity)
	return e.WithKey("scan."+reason, params)
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
