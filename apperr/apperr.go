// Package apperr defines the closed set of failure kinds the service can
// report to callers. Transport layers switch exhaustively on Kind; everything
// that is not one of the typed kinds is an infrastructure failure.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the transport boundary.
type Kind int

const (
	// KindInfrastructure covers store, cache, and channel failures.
	KindInfrastructure Kind = iota
	// KindNotFound signals a referenced entity does not exist.
	KindNotFound
	// KindAuthorization signals the principal does not own the resource.
	KindAuthorization
	// KindInvalidState signals a request that is structurally valid but
	// semantically impossible, such as quoting a same-city shipment.
	KindInvalidState
)

// Stable codes exposed on the wire.
const (
	CodeCityNotFound     = "CITY_NOT_FOUND"
	CodeRateNotFound     = "RATE_NOT_FOUND"
	CodeShipmentNotFound = "SHIPMENT_NOT_FOUND"
	CodeStatusNotFound   = "STATUS_NOT_FOUND"
	CodeUserNotFound     = "USER_NOT_FOUND"
	CodeNotOwner         = "NOT_SHIPMENT_OWNER"
	CodeSameCity         = "SAME_ORIGIN_DESTINATION"
	CodeInvalidPackage   = "INVALID_PACKAGE"
	CodeInfrastructure   = "INFRASTRUCTURE"
)

// Error is a typed domain failure with a stable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound builds a KindNotFound error.
func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// Authorization builds a KindAuthorization error.
func Authorization(code, message string) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Message: message}
}

// InvalidState builds a KindInvalidState error.
func InvalidState(code, message string) *Error {
	return &Error{Kind: KindInvalidState, Code: code, Message: message}
}

// Infrastructure wraps an unexpected failure.
func Infrastructure(message string, err error) *Error {
	return &Error{Kind: KindInfrastructure, Code: CodeInfrastructure, Message: message, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindInfrastructure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// CodeOf extracts the stable code from err, defaulting to CodeInfrastructure.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInfrastructure
}
