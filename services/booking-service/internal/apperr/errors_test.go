package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("book: %w", Conflict("slot_taken", "slot is no longer free"))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.True(t, errors.Is(err, &Error{Kind: KindConflict, Reason: "slot_taken"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindConflict, Reason: "other"}))
	assert.False(t, errors.Is(err, ErrValidation))
}

func TestInvalidTransitionDetails(t *testing.T) {
	err := InvalidTransition("completed", "approved")
	assert.Equal(t, KindInvalidTransition, KindOf(err))
	assert.Equal(t, "invalid_transition", ReasonOf(err))
	assert.Equal(t, "completed", err.Details["from"])
	assert.Equal(t, "approved", err.Details["to"])
}

func TestStorageUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Storage("create appointment", cause)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrStorage)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestUnclassifiedDefaultsToStorage(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindStorage, KindOf(err))
	assert.Equal(t, "internal", ReasonOf(err))
}
