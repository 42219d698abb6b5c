package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// Reason classifies why a scan was not (cleanly) applied
type Reason string

const (
	ReasonInvalidFormat         Reason = "invalid_format"
	ReasonItemNotFound          Reason = "item_not_found"
	ReasonWrongTrackingMode     Reason = "wrong_tracking_mode"
	ReasonDuplicateIdentity     Reason = "duplicate_identity"
	ReasonIdentityNotFound      Reason = "identity_not_found"
	ReasonQuantityExceeded      Reason = "quantity_exceeded"
	ReasonCarrierNotFound       Reason = "carrier_not_found"
	ReasonCarrierNotApplied     Reason = "carrier_not_applied"
	ReasonPartialCascadeFailure Reason = "partial_cascade_failure"
	ReasonPersistFailed         Reason = "persist_failed"
	ReasonWrongPayload          Reason = "wrong_payload"
	ReasonUnavailable           Reason = "unavailable"
)

// Reasons lists every rejection reason in declaration order
var Reasons = []Reason{
	ReasonInvalidFormat, ReasonItemNotFound, ReasonWrongTrackingMode,
	ReasonDuplicateIdentity, ReasonIdentityNotFound, ReasonQuantityExceeded,
	ReasonCarrierNotFound, ReasonCarrierNotApplied, ReasonPartialCascadeFailure,
	ReasonPersistFailed, ReasonWrongPayload, ReasonUnavailable,
}

// Retryable reports whether repeating the same scan may succeed
func (r Reason) Retryable() bool {
	return r == ReasonPersistFailed || r == ReasonUnavailable
}

// Rejection is a typed, expected scan outcome. It never indicates a bug.
type Rejection struct {
	Reason     Reason            `json:"reason"`
	LineItemID string            `json:"line_item_id,omitempty"`
	Message    string            `json:"message"`
	Params     map[string]string `json:"params,omitempty"`
}

// Reject creates a rejection with a formatted message
func Reject(reason Reason, format string, args ...interface{}) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface
func (r *Rejection) Error() string {
	return string(r.Reason) + ": " + r.Message
}

// OnLine attaches the affected line item
func (r *Rejection) OnLine(lineItemID string) *Rejection {
	r.LineItemID = lineItemID
	return r
}

// With adds a message parameter used for localization
func (r *Rejection) With(key, value string) *Rejection {
	if r.Params == nil {
		r.Params = make(map[string]string)
	}
	r.Params[key] = value
	return r
}

// WithInt adds an integer message parameter
func (r *Rejection) WithInt(key string, value int) *Rejection {
	return r.With(key, strconv.Itoa(value))
}

// IsReason reports whether err is a rejection with the given reason
func IsReason(err error, reason Reason) bool {
	var rej *Rejection
	return errors.As(err, &rej) && rej.Reason == reason
}
