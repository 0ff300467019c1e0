package device

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestNewManagerDefaultsQueueSize(t *testing.T) {
	m := NewManager("/dev/input", true, 0, testLog())
	assert.Equal(t, 1000, cap(m.events))
}

func TestSnapshotEmptyBeforeDiscover(t *testing.T) {
	m := NewManager("/dev/input", true, 10, testLog())
	assert.Empty(t, m.Snapshot())
}

func TestExistsFalseBeforeDiscover(t *testing.T) {
	m := NewManager("/dev/input", true, 10, testLog())
	assert.False(t, m.Exists("/dev/input/event0"))
}

func TestIsGrabbedFalseWithoutGrab(t *testing.T) {
	m := NewManager("/dev/input", true, 10, testLog())
	assert.False(t, m.IsGrabbed("/dev/input/event0"))
}

func TestGrabUnknownDeviceFails(t *testing.T) {
	m := NewManager("/dev/input", true, 10, testLog())
	err := m.Grab("/dev/input/event99")
	assert.Error(t, err)
}

func TestReleaseUnknownDeviceIsNoop(t *testing.T) {
	m := NewManager("/dev/input", true, 10, testLog())
	assert.NoError(t, m.Release("/dev/input/event99"))
	assert.NoError(t, m.Release("/dev/input/event99")) // idempotent
}

func TestShutdownWithNoGrabbedDevicesIsSafe(t *testing.T) {
	m := NewManager("/dev/input", true, 10, testLog())
	m.Shutdown()
}
