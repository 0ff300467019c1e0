package macro

import (
	"context"
	"sync"
	"time"

	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInjector struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeInjector) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakeInjector) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeInjector) KeyPress(code uint16) error         { f.record("press"); return nil }
func (f *fakeInjector) KeyRelease(code uint16) error       { f.record("release"); return nil }
func (f *fakeInjector) MouseButtonPress(uint16) error      { return nil }
func (f *fakeInjector) MouseButtonRelease(uint16) error    { return nil }
func (f *fakeInjector) MouseMove(int32, int32) error       { return nil }
func (f *fakeInjector) MouseScroll(int32) error            { return nil }
func (f *fakeInjector) TypeString(string) error            { return nil }
func (f *fakeInjector) Execute(context.Context, string) error { return nil }

func newTestEngine(t *testing.T, maxConcurrent int) (*Engine, *fakeInjector) {
	t.Helper()
	fi := &fakeInjector{}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewEngine(fi, maxConcurrent, 0, logrus.NewEntry(log)), fi
}

func TestEngineHandleEventTriggersOnPressOnly(t *testing.T) {
	e, fi := newTestEngine(t, 4)
	e.Store.Set(Entry{
		Name:    "m1",
		Trigger: NewCombo([]uint16{30}, nil),
		Actions: []Action{{Kind: KeyPress, Code: 30}},
		Enabled: true,
	})

	e.HandleEvent("/dev/input/event0", 30, false) // release: must not trigger
	require.Eventually(t, func() bool { return e.ActiveCount() == 0 }, 100*time.Millisecond, 5*time.Millisecond)

	e.HandleEvent("/dev/input/event0", 30, true)
	require.Eventually(t, func() bool { return len(fi.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestEngineRoutesToRecorderWhileRecording(t *testing.T) {
	e, fi := newTestEngine(t, 4)
	e.Store.Set(Entry{
		Name:    "m1",
		Trigger: NewCombo([]uint16{30}, nil),
		Actions: []Action{{Kind: KeyPress, Code: 30}},
		Enabled: true,
	})
	require.NoError(t, e.Recorder.Start("rec", "/dev/input/event0"))

	e.HandleEvent("/dev/input/event0", 30, true)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, fi.snapshot())

	entry, ok := e.Recorder.Stop()
	require.True(t, ok)
	assert.Len(t, entry.Actions, 1)
}

func TestEngineExecuteUnknownMacro(t *testing.T) {
	e, _ := newTestEngine(t, 4)
	err := e.Execute("does-not-exist")
	require.Error(t, err)
}

func TestEngineExecuteCapacityExceeded(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	e.Store.Set(Entry{Name: "slow", Actions: []Action{{Kind: Delay, DelayMS: 100}}, Enabled: true})
	e.Store.Set(Entry{Name: "other", Actions: []Action{{Kind: Delay, DelayMS: 1}}, Enabled: true})

	require.NoError(t, e.Execute("slow"))
	require.Eventually(t, func() bool { return e.ActiveCount() == 1 }, 100*time.Millisecond, 2*time.Millisecond)

	err := e.Execute("other")
	require.Error(t, err)

	require.Eventually(t, func() bool { return e.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestEngineStopMacroCancelsBeforeRemainingActions(t *testing.T) {
	e, fi := newTestEngine(t, 4)
	e.Store.Set(Entry{
		Name: "cancelme",
		Actions: []Action{
			{Kind: Delay, DelayMS: 200},
			{Kind: KeyPress, Code: 1},
		},
		Enabled: true,
	})

	require.NoError(t, e.Execute("cancelme"))
	require.Eventually(t, func() bool { return e.ActiveCount() == 1 }, 100*time.Millisecond, 2*time.Millisecond)

	assert.True(t, e.StopMacro("cancelme"))
	assert.False(t, e.StopMacro("cancelme"))

	require.Eventually(t, func() bool { return e.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, fi.snapshot())
}
