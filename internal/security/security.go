// Package security implements capability reduction, request-socket
// ownership hardening, and feature-gated token authentication.
package security

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"os/user"
	"sync"
	"time"
	"unsafe"

	"github.com/loov/hrtime"
	"github.com/razermapper/razermapperd/internal/errs"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/gocapability/capability"
)

// RequireRoot fails unless the process's effective user is root.
// Device grabbing and uinput creation both need it at startup.
func RequireRoot() error {
	if os.Geteuid() != 0 {
		return errs.New(errs.PermissionDenied, "razermapperd must start as root")
	}
	return nil
}

// Manager owns the daemon's privilege-drop state and the live token
// table exclusively.
type Manager struct {
	log *logrus.Entry

	dropped bool

	requireToken bool
	mu           sync.Mutex
	tokens       map[string]time.Time // token -> expiration
}

// NewManager constructs a security manager. requireToken gates every
// request other than GenerateToken/Authenticate behind a valid token.
func NewManager(requireToken bool, log *logrus.Entry) *Manager {
	return &Manager{
		requireToken: requireToken,
		tokens:       make(map[string]time.Time),
		log:          log,
	}
}

// DropCapabilities clears the bounding set down to retain, then
// applies the same set to the permitted and effective sets so the
// process cannot later regain a cleared capability through re-exec or
// setuid. Idempotent: a second call is a no-op.
func (m *Manager) DropCapabilities(retain []string) error {
	if m.dropped {
		return nil
	}

	keep := make([]capability.Cap, 0, len(retain))
	for _, name := range retain {
		cap, ok := capabilityByName[name]
		if !ok {
			return errs.New(errs.PermissionDenied, "unknown capability name: "+name)
		}
		keep = append(keep, cap)
	}

	caps, err := capability.NewPid2(0)
	if err != nil {
		return errs.Wrap(errs.PermissionDenied, "load process capabilities", err)
	}
	if err := caps.Load(); err != nil {
		return errs.Wrap(errs.PermissionDenied, "load process capabilities", err)
	}

	sets := capability.CAPS | capability.BOUNDS
	caps.Clear(sets)
	caps.Set(sets, keep...)

	if err := caps.Apply(sets); err != nil {
		return errs.Wrap(errs.PermissionDenied, "apply capability drop", err)
	}

	m.dropped = true
	m.log.Infof("dropped capabilities, retained: %v", retain)
	return nil
}

var capabilityByName = map[string]capability.Cap{
	"CAP_SYS_RAWIO":    capability.CAP_SYS_RAWIO,
	"CAP_SYS_ADMIN":    capability.CAP_SYS_ADMIN,
	"CAP_NET_ADMIN":    capability.CAP_NET_ADMIN,
	"CAP_SYS_MODULE":   capability.CAP_SYS_MODULE,
	"CAP_DAC_OVERRIDE": capability.CAP_DAC_OVERRIDE,
	"CAP_CHOWN":        capability.CAP_CHOWN,
	"CAP_FOWNER":       capability.CAP_FOWNER,
}

// HardenSocket chgrp's path to group and chmod's it to mode. An
// unknown group name is fatal (cannot enforce the policy); any other
// failure is logged and non-fatal.
func HardenSocket(path, group string, mode os.FileMode, log *logrus.Entry) error {
	grp, err := user.LookupGroup(group)
	if err != nil {
		return errs.Wrap(errs.PermissionDenied, "unknown socket group "+group, err)
	}

	gid := 0
	if _, err := fmt.Sscanf(grp.Gid, "%d", &gid); err != nil {
		return errs.Wrap(errs.PermissionDenied, "parse gid for group "+group, err)
	}

	if err := os.Chown(path, -1, gid); err != nil {
		log.WithError(err).Warnf("chgrp %s to %s failed", path, group)
	}
	if err := os.Chmod(path, mode); err != nil {
		log.WithError(err).Warnf("chmod %s to %o failed", path, mode)
	}
	return nil
}

const tokenTTL = 24 * time.Hour

// GenerateToken mints a token of the form razermapper-<hex>, purging
// expired entries first.
func (m *Manager) GenerateToken(clientID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purgeExpiredLocked()

	token := "razermapper-" + hashComponents(clientID)
	m.tokens[token] = time.Now().Add(tokenTTL)
	return token
}

// Authenticate validates token, returning nil when it is live. When
// token auth is disabled, every token validates. A token that was
// never issued is rejected with AuthInvalid; one that was issued but
// has passed its TTL is rejected with the more specific TokenExpired,
// so callers can distinguish a fabricated token from a stale one.
func (m *Manager) Authenticate(token string) error {
	if !m.requireToken {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.tokens[token]
	if !ok {
		return errs.New(errs.AuthInvalid, "Invalid authentication token")
	}
	if !time.Now().Before(expiry) {
		return errs.New(errs.TokenExpired, "Invalid authentication token")
	}
	return nil
}

// RequireToken reports whether the daemon is configured to gate
// requests on authentication.
func (m *Manager) RequireToken() bool { return m.requireToken }

func (m *Manager) purgeExpiredLocked() {
	now := time.Now()
	for t, exp := range m.tokens {
		if now.After(exp) {
			delete(m.tokens, t)
		}
	}
}

// hashComponents mixes a monotonic nanosecond timestamp, the process
// identifier, and a stack-address-derived constant into a 64-bit hex
// digest.
func hashComponents(clientID string) string {
	var stackMarker int
	mix := make([]byte, 0, 32)

	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(hrtime.Now()))
	mix = append(mix, tsBuf[:]...)

	var pidBuf [8]byte
	binary.LittleEndian.PutUint64(pidBuf[:], uint64(os.Getpid()))
	mix = append(mix, pidBuf[:]...)

	var addrBuf [8]byte
	binary.LittleEndian.PutUint64(addrBuf[:], uint64(uintptr(unsafe.Pointer(&stackMarker))))
	mix = append(mix, addrBuf[:]...)

	mix = append(mix, []byte(clientID)...)

	sum := sha256.Sum256(mix)
	return hex.EncodeToString(sum[:8])
}
