package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAndError(t *testing.T) {
	err := New(MacroNotFound, "macro \"foo\" not found")
	assert.Equal(t, "MacroNotFound: macro \"foo\" not found", err.Error())
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(PersistenceIOError, "write macros file", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "write macros file")
}

func TestKindOf(t *testing.T) {
	err := New(AlreadyRecording, "recording in progress")

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, AlreadyRecording, kind)

	_, ok = KindOf(errors.New("plain error"))
	assert.False(t, ok)
}

func TestIs(t *testing.T) {
	err := New(CapacityExceeded, "too many executions")
	assert.True(t, Is(err, CapacityExceeded))
	assert.False(t, Is(err, MacroNotFound))
	assert.False(t, Is(errors.New("plain"), CapacityExceeded))
}
