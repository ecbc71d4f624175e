package transport

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ApplicationError is a definitive failure reported by the server through
// the grpc-status response header. It is terminal: retrying the same
// request with the same idempotency key cannot change the outcome.
type ApplicationError struct {
	// Code is the gRPC status code from the grpc-status header.
	Code codes.Code

	// Message is the decoded grpc-message header, possibly empty.
	Message string

	// Method is the '/package.service.method' path that failed.
	Method string

	// ActorID is the actor the request addressed.
	ActorID string
}

// Error implements the error interface.
func (e *ApplicationError) Error() string {
	msg := fmt.Sprintf("'%s' for '%s' responded with status %s", e.Method, e.ActorID, e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// GRPCStatus lets status.FromError and status.Code recognise the error.
func (e *ApplicationError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// StatusError is a non-2xx response without a grpc-status header. The
// failure is attributed to infrastructure (proxy, restart) and retried.
type StatusError struct {
	StatusCode int
	Method     string
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("'%s' failed: HTTP %d", e.Method, e.StatusCode)
	}
	return fmt.Sprintf("'%s' failed: HTTP %d: %s", e.Method, e.StatusCode, e.Body)
}

// IsApplicationError reports whether err is, or wraps, an ApplicationError.
// Uses errors.As to handle wrapped errors.
func IsApplicationError(err error) bool {
	var ae *ApplicationError
	return errors.As(err, &ae)
}

// AsApplicationError extracts the ApplicationError from err.
func AsApplicationError(err error) (*ApplicationError, bool) {
	var ae *ApplicationError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
