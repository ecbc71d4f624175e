package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Invoke and Resume.
var (
	// ErrAborted is returned to invokers whose mutation was abandoned because
	// the engine was closed. Queued records stay persisted for recovery.
	ErrAborted = errors.New("mutation aborted")

	// ErrClosed is returned when invoking on a closed engine.
	ErrClosed = errors.New("engine closed")

	// ErrUnknownKind is returned for a kind the actor type does not declare.
	ErrUnknownKind = errors.New("unknown mutation kind")

	// ErrAlreadyResumed is returned when a recovered mutation is resumed twice.
	ErrAlreadyResumed = errors.New("recovered mutation already resumed")
)

// ProtocolError is a programming error on the consumer side, detected
// eagerly instead of silently misbehaving.
//
// Examples:
//   - the read request changed for an actor that already has a session
//   - the settings (namespace) changed for an actor that already has a session
//   - the actor type table is invalid
type ProtocolError struct {
	// Code identifies the violation.
	Code ProtocolErrorCode

	// Message is a human-readable description.
	Message string

	// ActorID identifies the affected actor, if any.
	ActorID string
}

// ProtocolErrorCode categorizes protocol violations.
type ProtocolErrorCode string

const (
	// ErrCodeReadRequestChanged indicates a second binding of the same actor
	// with a different read request.
	ErrCodeReadRequestChanged ProtocolErrorCode = "READ_REQUEST_CHANGED"

	// ErrCodeSettingsChanged indicates a second binding of the same actor
	// with different settings.
	ErrCodeSettingsChanged ProtocolErrorCode = "SETTINGS_CHANGED"

	// ErrCodeInvalidActorType indicates the kind table failed validation.
	ErrCodeInvalidActorType ProtocolErrorCode = "INVALID_ACTOR_TYPE"
)

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.ActorID != "" {
		return fmt.Sprintf("%s: %s (actor=%s)", e.Code, e.Message, e.ActorID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsProtocolError returns true if the error is a protocol violation.
// Uses errors.As to handle wrapped errors.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsAborted returns true if the mutation was abandoned by Close.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}
