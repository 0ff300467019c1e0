// Package device implements the device manager: enumeration,
// exclusive grab/release, and event ingestion for HID input nodes.
//
// Each grabbed device gets a dedicated worker goroutine doing
// non-blocking reads on a deadline, checked against a close channel
// every few iterations. evdev has no async read model, so the
// workers' only output is a message on the shared bounded channel.
package device

import (
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	evdev "github.com/gvalkov/golang-evdev"
	udev "github.com/jochenvg/go-udev"
	"github.com/razermapper/razermapperd/internal/errs"
	"github.com/sirupsen/logrus"
)

// Descriptor is the stable, read-shared identity of a discovered
// device. DeviceID is the node path, which doubles as the stable key
// throughout the daemon.
type Descriptor struct {
	DeviceID string
	Name     string
	Vendor   uint16
	Product  uint16
	Phys     string
}

// Event is a normalized input tuple forwarded by a grabbed device's
// ingestion worker.
type Event struct {
	DeviceID string
	Code     uint16
	Pressed  bool
}

// grabbed is the descriptor plus an owning handle to the opened
// device node, held only between a Grab and a matching Release.
type grabbed struct {
	descriptor Descriptor
	dev        *evdev.InputDevice
	stop       chan struct{}
	done       chan struct{}
}

// Manager owns every grabbed device handle exclusively, and fans out
// normalized events from all of them into a single bounded channel.
type Manager struct {
	mu         sync.RWMutex
	discovered map[string]Descriptor
	grabbedBy  map[string]*grabbed

	inputDevicesPath string
	useVendorSysfs   bool

	events chan Event
	log    *logrus.Entry
}

// NewManager constructs a device manager. queueSize sets the capacity
// of the shared event channel (performance.event_queue_size, default
// 1000).
func NewManager(inputDevicesPath string, useVendorSysfs bool, queueSize int, log *logrus.Entry) *Manager {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Manager{
		discovered:       make(map[string]Descriptor),
		grabbedBy:        make(map[string]*grabbed),
		inputDevicesPath: inputDevicesPath,
		useVendorSysfs:   useVendorSysfs,
		events:           make(chan Event, queueSize),
		log:              log,
	}
}

// Events returns the shared, bounded channel every grabbed device's
// worker forwards normalized events into.
func (m *Manager) Events() <-chan Event { return m.events }

// Discover enumerates input nodes under inputDevicesPath, opens each
// to read its identity, and (when enabled) consults the vendor sysfs
// driver directory to rename branded devices, de-duplicating by node
// path. Idempotent: callers may re-invoke it freely.
func (m *Manager) Discover() ([]Descriptor, error) {
	devices, err := evdev.ListInputDevices()
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceIOError, "list input devices", err)
	}

	root := m.inputDevicesPath
	if root == "" {
		root = "/dev/input"
	}

	byPath := make(map[string]Descriptor, len(devices))
	for _, dev := range devices {
		if !strings.HasPrefix(dev.Fn, root) {
			continue
		}
		byPath[dev.Fn] = Descriptor{
			DeviceID: dev.Fn,
			Name:     dev.Name,
			Vendor:   dev.Vendor,
			Product:  dev.Product,
			Phys:     dev.Phys,
		}
	}

	if m.useVendorSysfs {
		m.applyVendorNames(byPath)
	}

	m.mu.Lock()
	m.discovered = byPath
	m.mu.Unlock()

	out := make([]Descriptor, 0, len(byPath))
	for _, d := range byPath {
		out = append(out, d)
	}
	return out, nil
}

// applyVendorNames consults udev's "input" subsystem for each event
// node's owning HID driver (walking up the sysfs parent chain, since
// the event node's immediate parent is rarely the HID device itself)
// and, when a branded driver name is found, overwrites the
// node-sourced Name for that event path. Sysfs-sourced entries are
// matched to node-sourced ones by event-path identity, never creating
// a new Descriptor.
func (m *Manager) applyVendorNames(byPath map[string]Descriptor) {
	u := udev.Udev{}
	enumerate := u.NewEnumerate()
	if err := enumerate.AddMatchSubsystem("input"); err != nil {
		m.log.WithError(err).Debug("udev: could not filter input subsystem")
		return
	}
	devices, err := enumerate.Devices()
	if err != nil {
		m.log.WithError(err).Debug("udev: enumerate failed")
		return
	}
	for _, d := range devices {
		eventPath := d.Devnode()
		if eventPath == "" {
			continue
		}
		if _, ok := byPath[eventPath]; !ok {
			continue
		}
		driver := ownerDriverName(d)
		if driver == "" {
			continue
		}
		desc := byPath[eventPath]
		desc.Name = driver
		byPath[eventPath] = desc
	}
}

// ownerDriverName walks up to five sysfs parents looking for the one
// bound to a kernel driver (the HID device backing the event node).
func ownerDriverName(d *udev.Device) string {
	cur := d
	for i := 0; i < 5 && cur != nil; i++ {
		if driver := cur.Driver(); driver != "" {
			return driver
		}
		cur = cur.Parent()
	}
	return ""
}

// Seed directly populates the discovered-device snapshot, bypassing
// the real evdev enumeration. It exists for tests that exercise
// GetDevices/SetMacro/RecordMacro against known descriptors without a
// live kernel input subsystem; production callers always go through
// Discover.
func (m *Manager) Seed(descriptors []Descriptor) {
	byPath := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		byPath[d.DeviceID] = d
	}
	m.mu.Lock()
	m.discovered = byPath
	m.mu.Unlock()
}

// Snapshot returns the descriptors from the most recent Discover call.
func (m *Manager) Snapshot() []Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Descriptor, 0, len(m.discovered))
	for _, d := range m.discovered {
		out = append(out, d)
	}
	return out
}

// Exists reports whether deviceID was present in the last Discover
// snapshot.
func (m *Manager) Exists(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.discovered[deviceID]
	return ok
}

// IsGrabbed reports whether deviceID currently has an exclusive grab
// held by this process.
func (m *Manager) IsGrabbed(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.grabbedBy[deviceID]
	return ok
}

// Grab opens deviceID, requests exclusive capture from the kernel,
// and starts a dedicated blocking worker that forwards normalized
// events into Events(). Returns DeviceNotFound, AlreadyGrabbed, or
// GrabFailed/PermissionDenied.
func (m *Manager) Grab(deviceID string) error {
	m.mu.Lock()
	descriptor, known := m.discovered[deviceID]
	if !known {
		m.mu.Unlock()
		return errs.New(errs.DeviceNotFound, deviceID)
	}
	if _, already := m.grabbedBy[deviceID]; already {
		m.mu.Unlock()
		return errs.New(errs.AlreadyGrabbed, deviceID)
	}
	m.mu.Unlock()

	dev, err := evdev.Open(deviceID)
	if err != nil {
		return errs.Wrap(errs.GrabFailed, "open "+deviceID, err)
	}
	if err := dev.Grab(); err != nil {
		dev.File.Close()
		if os.IsPermission(err) {
			return errs.Wrap(errs.PermissionDenied, "grab "+deviceID, err)
		}
		return errs.Wrap(errs.GrabFailed, "grab "+deviceID, err)
	}

	g := &grabbed{
		descriptor: descriptor,
		dev:        dev,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	m.grabbedBy[deviceID] = g
	m.mu.Unlock()

	go m.pump(g)
	m.log.Infof("grabbed device: %s (%s)", descriptor.Name, descriptor.DeviceID)
	return nil
}

// Release releases a grabbed device. Idempotent; a missing entry is
// logged, never an error.
func (m *Manager) Release(deviceID string) error {
	m.mu.Lock()
	g, ok := m.grabbedBy[deviceID]
	if !ok {
		m.mu.Unlock()
		m.log.Debugf("release of non-grabbed device %s ignored", deviceID)
		return nil
	}
	delete(m.grabbedBy, deviceID)
	m.mu.Unlock()

	close(g.stop)
	<-g.done

	if err := g.dev.Release(); err != nil {
		m.log.WithError(err).Warnf("release ioctl failed for %s", deviceID)
	}
	g.dev.File.Close()
	m.log.Infof("released device: %s", deviceID)
	return nil
}

// Shutdown releases every grabbed device in arbitrary order. Errors on
// individual releases are logged and never abort shutdown.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.grabbedBy))
	for id := range m.grabbedBy {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.Release(id); err != nil {
			m.log.WithError(err).Warnf("error releasing %s during shutdown", id)
		}
	}
}

// pump is the dedicated blocking worker for one grabbed device. It
// reads events synchronously and forwards normalized key/button
// events into the shared bounded channel; a full channel blocks the
// worker, throttling the producing device rather than dropping
// events.
func (m *Manager) pump(g *grabbed) {
	defer close(g.done)

	syscall.SetNonblock(int(g.dev.File.Fd()), true)

	loop := 0
	for {
		g.dev.File.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		event, err := g.dev.ReadOne()
		if err != nil {
			if strings.Contains(err.Error(), "i/o timeout") || strings.Contains(err.Error(), "resource temporarily unavailable") {
				loop++
				if loop > 3 {
					select {
					case <-g.stop:
						return
					default:
					}
					loop = 0
				}
				continue
			}
			m.log.WithError(err).Debugf("device read ended for %s", g.descriptor.DeviceID)
			return
		}

		if event.Type != evdev.EV_KEY {
			continue
		}
		// event.Value: 0=release, 1=press, 2=autorepeat. Autorepeat is
		// not a distinct press/release and is not forwarded.
		if event.Value != 0 && event.Value != 1 {
			continue
		}
		select {
		case m.events <- Event{
			DeviceID: g.descriptor.DeviceID,
			Code:     uint16(event.Code),
			Pressed:  event.Value == 1,
		}:
		case <-g.stop:
			return
		}
	}
}
