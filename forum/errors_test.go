package forum

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("merge: %w", NotFoundError("topic", 7))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrPreconditionFailed))
	assert.Equal(t, CodeNotFound, ErrorCode(err))
	assert.Equal(t, "merge: topic 7 not found", err.Error())

	assert.True(t, errors.Is(ErrNotModerator, ErrPreconditionFailed), "reasonless sentinel matches any precondition")
	assert.False(t, errors.Is(ErrNotModerator, ErrInsufficientTopics), "reasons must agree when set")
	assert.Equal(t, ReasonNotModerator, ErrorReason(fmt.Errorf("wrapped: %w", ErrNotModerator)))
}

func TestConflictErrorUnwraps(t *testing.T) {
	cause := errors.New("deadlock detected")
	err := ConflictError(cause)
	assert.True(t, errors.Is(err, ErrTxConflict))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "transaction conflict: deadlock detected", err.Error())
}

func TestErrorCodeOfForeignError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCode(errors.New("plain")))
	assert.Equal(t, "", ErrorReason(nil))
}
