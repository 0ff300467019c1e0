// Package injector implements the virtual-input device: creation of
// one uinput device, and synthesis of key, button, relative-pointer,
// wheel, and text events through it.
package injector

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
	"unsafe"

	"github.com/razermapper/razermapperd/internal/errs"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	deviceName  = "Razermapper Virtual Input"
	vendorID    = 0x1532
	productID   = 0xFFFF
	versionID   = 1
	uinputPath  = "/dev/uinput"
	settleDelay = 60 * time.Millisecond

	mouseButtonBase = 271 // mouse_press(n) -> n + 271 (1 -> BTN_LEFT=272)
)

// allowedCommands is the fixed allowlist for Execute actions.
var allowedCommands = map[string]struct{}{
	"xdotool":       {},
	"xrandr":        {},
	"amixer":        {},
	"notify-send":   {},
	"pactl":         {},
	"playerctl":     {},
	"brightnessctl": {},
	"xbacklight":    {},
}

// Device is the daemon's single virtual input device. All writes are
// serialized through mu, so a synthesized event tuple is never
// interleaved with another's.
type Device struct {
	mu          sync.Mutex
	fd          *os.File
	initialized bool
	display     string
	log         *logrus.Entry
}

// New returns an uninitialized injector; call Init before use.
func New(display string, log *logrus.Entry) *Device {
	if display == "" {
		display = ":0"
	}
	return &Device{display: display, log: log}
}

// Init opens /dev/uinput, advertises key/relative/sync capabilities,
// writes the device descriptor, and commits the device. A second call
// is a no-op.
func (d *Device) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}

	f, err := os.OpenFile(uinputPath, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return errs.Wrap(errs.InjectorNotInitialized, "open "+uinputPath, err)
	}

	fd := f.Fd()
	if err := ioctlInt(fd, uiSetEvBit, evKey); err != nil {
		f.Close()
		return errs.Wrap(errs.InjectorNotInitialized, "enable EV_KEY", err)
	}
	if err := ioctlInt(fd, uiSetEvBit, evRel); err != nil {
		f.Close()
		return errs.Wrap(errs.InjectorNotInitialized, "enable EV_REL", err)
	}
	if err := ioctlInt(fd, uiSetEvBit, evSyn); err != nil {
		f.Close()
		return errs.Wrap(errs.InjectorNotInitialized, "enable EV_SYN", err)
	}

	for code := 0; code < 256; code++ {
		if err := ioctlInt(fd, uiSetKeyBit, code); err != nil {
			f.Close()
			return errs.Wrap(errs.InjectorNotInitialized, "enable key bit", err)
		}
	}
	for code := 272; code < 280; code++ {
		if err := ioctlInt(fd, uiSetKeyBit, code); err != nil {
			f.Close()
			return errs.Wrap(errs.InjectorNotInitialized, "enable mouse button bit", err)
		}
	}
	for _, rel := range []int{relX, relY, relWheel} {
		if err := ioctlInt(fd, uiSetRelBit, rel); err != nil {
			f.Close()
			return errs.Wrap(errs.InjectorNotInitialized, "enable rel bit", err)
		}
	}

	setup := uiSetup{
		ID: inputID{
			Bustype: busUSB,
			Vendor:  vendorID,
			Product: productID,
			Version: versionID,
		},
	}
	copy(setup.Name[:], deviceName)
	if err := ioctlSetup(fd, &setup); err != nil {
		f.Close()
		return errs.Wrap(errs.InjectorNotInitialized, "UI_DEV_SETUP", err)
	}

	if err := ioctlInt(fd, uiDevCreate, 0); err != nil {
		f.Close()
		return errs.Wrap(errs.InjectorNotInitialized, "UI_DEV_CREATE", err)
	}

	d.fd = f
	d.initialized = true

	// Give the kernel time to publish the new device before the first
	// synthesized event.
	time.Sleep(settleDelay)
	d.log.Info("virtual input device created")
	return nil
}

// Close destroys the virtual device and closes the endpoint, once and
// only if initialized. Safe to call multiple times.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil
	}
	err := ioctlInt(d.fd.Fd(), uiDevDestroy, 0)
	if err != nil {
		d.log.WithError(err).Warn("UI_DEV_DESTROY failed")
	}
	closeErr := d.fd.Close()
	d.fd = nil
	d.initialized = false
	if err != nil {
		return err
	}
	return closeErr
}

func (d *Device) writeEvent(typ, code uint16, value int32) error {
	if !d.initialized {
		return errs.New(errs.InjectorNotInitialized, "injector not initialized")
	}
	now := time.Now()

	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(now.Unix()))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(now.Nanosecond()/1000))
	binary.LittleEndian.PutUint16(buf[16:18], typ)
	binary.LittleEndian.PutUint16(buf[18:20], code)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(value))

	_, err := d.fd.Write(buf)
	return err
}

func (d *Device) syn() error {
	return d.writeEvent(evSyn, synReport, 0)
}

// KeyPress writes (EV_KEY, code, 1) + SYN.
func (d *Device) KeyPress(code uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writeEvent(evKey, code, 1); err != nil {
		return err
	}
	return d.syn()
}

// KeyRelease writes (EV_KEY, code, 0) + SYN.
func (d *Device) KeyRelease(code uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writeEvent(evKey, code, 0); err != nil {
		return err
	}
	return d.syn()
}

// MouseButtonPress maps n -> n+271 and presses it (1=left, 2=right, 3=middle).
func (d *Device) MouseButtonPress(n uint16) error {
	return d.KeyPress(n + mouseButtonBase)
}

// MouseButtonRelease maps n -> n+271 and releases it.
func (d *Device) MouseButtonRelease(n uint16) error {
	return d.KeyRelease(n + mouseButtonBase)
}

// MouseMove emits REL_X then REL_Y only for nonzero deltas, followed
// by one synchronization frame. (0,0) emits only the sync frame.
func (d *Device) MouseMove(dx, dy int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dx != 0 {
		if err := d.writeEvent(evRel, relX, dx); err != nil {
			return err
		}
	}
	if dy != 0 {
		if err := d.writeEvent(evRel, relY, dy); err != nil {
			return err
		}
	}
	return d.syn()
}

// MouseScroll emits REL_WHEEL + sync.
func (d *Device) MouseScroll(amount int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writeEvent(evRel, relWheel, amount); err != nil {
		return err
	}
	return d.syn()
}

// TypeString maps each character through the US-QWERTY table and
// synthesizes paced key-down/up events, holding left shift around
// characters that need it. An empty string emits no events. Unmapped
// characters are skipped with a warning.
func (d *Device) TypeString(text string) error {
	for _, ch := range text {
		mapping, ok := qwerty[ch]
		if !ok {
			d.log.Warnf("unmapped character %q, skipping", ch)
			continue
		}
		if mapping.shift {
			if err := d.KeyPress(keyLeftShift); err != nil {
				return err
			}
			time.Sleep(10 * time.Millisecond)
		}
		if err := d.KeyPress(mapping.code); err != nil {
			return err
		}
		time.Sleep(20 * time.Millisecond)
		if err := d.KeyRelease(mapping.code); err != nil {
			return err
		}
		if mapping.shift {
			time.Sleep(10 * time.Millisecond)
			if err := d.KeyRelease(keyLeftShift); err != nil {
				return err
			}
		}
		time.Sleep(30 * time.Millisecond)
	}
	return nil
}

// Execute spawns command only if its program is in the fixed allowlist,
// with a scrubbed environment, closed stdin, captured stdout/stderr,
// and a 10-second wall-clock limit.
func (d *Device) Execute(ctx context.Context, command string) error {
	program, args, err := splitCommand(command)
	if err != nil {
		return errs.Wrap(errs.CommandFailed, "parse command", err)
	}
	if _, ok := allowedCommands[program]; !ok {
		return errs.New(errs.CommandBlocked, "command not in allowlist: "+program)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Env = []string{"PATH=/usr/bin:/bin", "DISPLAY=" + d.display}
	cmd.Stdin = nil

	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return errs.New(errs.CommandTimeout, "command exceeded 10s wall clock")
	}
	if err != nil {
		return errs.Wrap(errs.CommandFailed, fmt.Sprintf("command failed: %s", string(output)), err)
	}
	return nil
}

func ioctlInt(fd uintptr, request uintptr, val int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, request, uintptr(val))
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlSetup(fd uintptr, setup *uiSetup) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(uiDevSetup), uintptr(unsafe.Pointer(setup)))
	if errno != 0 {
		return errno
	}
	return nil
}
