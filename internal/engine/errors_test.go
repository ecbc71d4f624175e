package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtocolError_Format(t *testing.T) {
	err := &ProtocolError{Code: ErrCodeReadRequestChanged, Message: "read request changed", ActorID: "list-1"}
	assert.Equal(t, "READ_REQUEST_CHANGED: read request changed (actor=list-1)", err.Error())

	bare := &ProtocolError{Code: ErrCodeInvalidActorType, Message: "no kinds"}
	assert.Equal(t, "INVALID_ACTOR_TYPE: no kinds", bare.Error())
}

func TestIsProtocolError_Wrapped(t *testing.T) {
	err := fmt.Errorf("open session: %w", &ProtocolError{Code: ErrCodeSettingsChanged})
	assert.True(t, IsProtocolError(err))
	assert.False(t, IsProtocolError(ErrAborted))
}

func TestIsAborted(t *testing.T) {
	assert.True(t, IsAborted(fmt.Errorf("AddGoal: %w", ErrAborted)))
	assert.False(t, IsAborted(ErrClosed))
}
