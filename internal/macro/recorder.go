package macro

import (
	"sync"

	"github.com/razermapper/razermapperd/internal/errs"
)

// Recorder is the global recording state machine: at most one
// recording session is ever active, and it targets either a single
// device or every device.
type Recorder struct {
	mu       sync.Mutex
	active   bool
	name     string
	deviceID string // empty == unrestricted
	actions  []Action
}

// NewRecorder returns an idle recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Start transitions Idle -> Recording(name, deviceID). deviceID may be
// empty to record triggers from any device.
func (r *Recorder) Start(name, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return errs.New(errs.AlreadyRecording, "a recording is already in progress for "+r.name)
	}
	r.active = true
	r.name = name
	r.deviceID = deviceID
	r.actions = nil
	return nil
}

// Active reports whether a recording session is in progress, and if
// so, which device it targets (empty string means unrestricted).
func (r *Recorder) Active() (inProgress bool, name, deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.name, r.deviceID
}

// Observe appends a KeyPress/KeyRelease action for an ingested event,
// if a recording is active and the event's source device matches the
// recording's target (or the recording is unrestricted). Events from
// non-matching devices are silently ignored.
func (r *Recorder) Observe(deviceID string, code uint16, pressed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return
	}
	if r.deviceID != "" && r.deviceID != deviceID {
		return
	}
	kind := KeyRelease
	if pressed {
		kind = KeyPress
	}
	r.actions = append(r.actions, Action{Kind: kind, Code: code})
}

// Stop transitions Recording -> Idle, returning the completed macro.
// Stopping while idle is a no-op returning ok=false, not an error.
func (r *Recorder) Stop() (entry Entry, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return Entry{}, false
	}
	entry = Entry{
		Name:     r.name,
		DeviceID: r.deviceID,
		Actions:  r.actions,
		Enabled:  true,
	}
	r.active = false
	r.name = ""
	r.deviceID = ""
	r.actions = nil
	return entry, true
}
