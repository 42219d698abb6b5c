package httputil

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/dispatchrx/dispatchrx-backend/pkg/errors"
)

// MaxBodyBytes caps request bodies; a document import is the largest body
const MaxBodyBytes = 1 << 20

// Response is a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody represents an error in the response
type ErrorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func write(w http.ResponseWriter, statusCode int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	write(w, statusCode, Response{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
	})
}

// Error sends a localized error response using the request locale.
// Errors that are not AppErrors are reported as internal errors.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		appErr = errors.Internal(err.Error())
	}

	write(w, appErr.StatusCode, Response{
		Error: &ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Localize(r.Context()),
			Details:   appErr.Details,
			RequestID: GetRequestID(r.Context()),
		},
	})
}

// NoContent sends a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Created sends a 201 Created response
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// Accepted sends a 202 Accepted response for work completed elsewhere
func Accepted(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusAccepted, data)
}

// DecodeJSON decodes a single JSON value from the request body, rejecting
// unknown fields, trailing data and bodies over MaxBodyBytes
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes+1))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.BadRequest("invalid JSON body").WithKey("errors.invalid_json", nil)
	}
	if dec.InputOffset() > MaxBodyBytes {
		return errors.BadRequest("request body too large").WithKey("errors.body_too_large", nil)
	}
	if dec.More() {
		return errors.BadRequest("invalid JSON body").WithKey("errors.invalid_json", nil)
	}
	return nil
}
