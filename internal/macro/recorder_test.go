package macro

import (
	"testing"

	"github.com/razermapper/razermapperd/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderStartObserveStop(t *testing.T) {
	r := NewRecorder()

	require.NoError(t, r.Start("M1", "/dev/input/event0"))

	active, name, deviceID := r.Active()
	assert.True(t, active)
	assert.Equal(t, "M1", name)
	assert.Equal(t, "/dev/input/event0", deviceID)

	r.Observe("/dev/input/event0", 30, true)
	r.Observe("/dev/input/event0", 30, false)
	// Events from a different device are ignored for a device-scoped recording.
	r.Observe("/dev/input/event1", 31, true)

	entry, ok := r.Stop()
	require.True(t, ok)
	assert.Equal(t, "M1", entry.Name)
	require.Len(t, entry.Actions, 2)
	assert.Equal(t, KeyPress, entry.Actions[0].Kind)
	assert.Equal(t, uint16(30), entry.Actions[0].Code)
	assert.Equal(t, KeyRelease, entry.Actions[1].Kind)

	active, _, _ = r.Active()
	assert.False(t, active)
}

func TestRecorderStopWithoutRecordingIsNotAnError(t *testing.T) {
	r := NewRecorder()
	_, ok := r.Stop()
	assert.False(t, ok)
}

func TestRecorderAlreadyRecording(t *testing.T) {
	r := NewRecorder()
	require.NoError(t, r.Start("M1", "/dev/input/event0"))

	err := r.Start("M2", "/dev/input/event0")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AlreadyRecording))
}
