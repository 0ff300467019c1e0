// Package daemon wires every component together: ordered startup, the
// event dispatcher that bridges the device manager to the macro
// engine, and signal-driven graceful shutdown.
package daemon

import (
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/razermapper/razermapperd/internal/config"
	"github.com/razermapper/razermapperd/internal/device"
	"github.com/razermapper/razermapperd/internal/errs"
	"github.com/razermapper/razermapperd/internal/injector"
	"github.com/razermapper/razermapperd/internal/macro"
	"github.com/razermapper/razermapperd/internal/persistence"
	"github.com/razermapper/razermapperd/internal/security"
	"github.com/razermapper/razermapperd/internal/server"
	"github.com/sirupsen/logrus"
)

// defaultProfileName is the profile merged into the live map at startup.
const defaultProfileName = "default"

// Options configures a Daemon beyond what is read from the config
// file (flags that must be known before the config file is loaded).
type Options struct {
	ConfigPath string
	SocketPath string // overrides config if non-empty
	Display    string
}

// Daemon owns the full set of shared components for the lifetime of
// one run.
type Daemon struct {
	log *logrus.Entry

	cfg        config.Config
	paths      persistence.Paths
	persist    *persistence.Store
	devices    *device.Manager
	inject     *injector.Device
	engine     *macro.Engine
	sec        *security.Manager
	requestSrv *server.Server

	stopDispatch chan struct{}
}

// New performs the ordered startup sequence: verify root, load the
// config, resolve the socket path, construct security, initialize
// persistence and the injector while still privileged, discover
// devices, instantiate the macro engine, load the macro map and the
// default profile, start the dispatcher, drop capabilities, and start
// the request server.
func New(opts Options, log *logrus.Entry) (*Daemon, error) {
	if err := security.RequireRoot(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, errs.Wrap(errs.PersistenceIOError, "load config", err)
	}

	socketPath := cfg.Daemon.SocketPath
	if opts.SocketPath != "" {
		socketPath = opts.SocketPath
	}

	sec := security.NewManager(cfg.Security.RequireAuthToken, log.WithField("component", "security"))

	paths := persistence.DefaultPaths()
	persist := persistence.NewStore(paths)

	inject := injector.New(opts.Display, log.WithField("component", "injector"))
	if err := inject.Init(); err != nil {
		return nil, err
	}

	devices := device.NewManager(cfg.DeviceDiscovery.InputDevicesPath, cfg.DeviceDiscovery.UseVendorSysfs, cfg.Performance.EventQueueSize, log.WithField("component", "device"))
	if _, err := devices.Discover(); err != nil {
		inject.Close()
		return nil, err
	}

	defaultDelay := time.Duration(cfg.MacroEngine.DefaultDelayMS) * time.Millisecond
	engine := macro.NewEngine(inject, cfg.MacroEngine.MaxConcurrentMacros, defaultDelay, log.WithField("component", "macro"))

	entries, err := persist.LoadMacros()
	if err != nil {
		log.WithError(err).Warn("failed to load macro map, starting empty")
	}
	engine.Store.ReplaceAll(entries)

	// Merge the default profile into the live map. A daemon with no
	// default profile yet (first run) is not an error.
	profileEntries, err := persist.LoadProfile(defaultProfileName)
	switch {
	case err == nil:
		count := engine.Store.Merge(profileEntries)
		log.Infof("loaded default profile (%d macros)", count)
	case errors.Is(err, fs.ErrNotExist):
		log.Debug("no default profile on disk yet")
	default:
		log.WithError(err).Warn("failed to load default profile")
	}

	d := &Daemon{
		log:          log,
		cfg:          cfg,
		paths:        paths,
		persist:      persist,
		devices:      devices,
		inject:       inject,
		engine:       engine,
		sec:          sec,
		stopDispatch: make(chan struct{}),
	}

	go d.dispatchEvents()

	if cfg.Daemon.DropPrivileges {
		if err := sec.DropCapabilities(cfg.Security.RetainCapabilities); err != nil {
			d.shutdownPartial()
			return nil, err
		}
	}

	d.requestSrv = server.New(socketPath, cfg.Security.SocketGroup, os.FileMode(cfg.Security.SocketPermissions), devices, engine, persist, sec, log.WithField("component", "server"))
	if err := d.requestSrv.Start(); err != nil {
		d.shutdownPartial()
		return nil, err
	}

	return d, nil
}

// dispatchEvents bridges the device manager's event channel to the
// macro engine's recorder/trigger-matching path.
func (d *Daemon) dispatchEvents() {
	for {
		select {
		case ev, ok := <-d.devices.Events():
			if !ok {
				return
			}
			d.engine.HandleEvent(ev.DeviceID, ev.Code, ev.Pressed)
		case <-d.stopDispatch:
			return
		}
	}
}

// Run blocks until SIGTERM or SIGINT is received, then shuts down.
func (d *Daemon) Run() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	d.log.Infof("received signal %s, shutting down", sig)
	d.Shutdown()
}

// Shutdown releases all grabbed devices, stops the request server
// (closing the socket and removing its file), and destroys the
// virtual input device. In-flight macro executions are not cancelled;
// they terminate on their own.
func (d *Daemon) Shutdown() {
	close(d.stopDispatch)
	d.devices.Shutdown()
	if d.requestSrv != nil {
		d.requestSrv.Stop()
	}
	if err := d.inject.Close(); err != nil {
		d.log.WithError(err).Warn("error destroying virtual device")
	}
}

// shutdownPartial is used when startup fails partway through, so
// already-acquired resources (the virtual device, grabbed devices) are
// still released.
func (d *Daemon) shutdownPartial() {
	d.devices.Shutdown()
	d.inject.Close()
}
