// Package server implements the request server: a length-framed Unix
// domain socket with one goroutine per accepted connection, an
// authentication gate, and the dispatch table covering every
// request/response pair of the client protocol.
package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/razermapper/razermapperd/internal/device"
	"github.com/razermapper/razermapperd/internal/errs"
	"github.com/razermapper/razermapperd/internal/macro"
	"github.com/razermapper/razermapperd/internal/persistence"
	"github.com/razermapper/razermapperd/internal/protocol"
	"github.com/razermapper/razermapperd/internal/security"
	"github.com/sirupsen/logrus"
)

const defaultOpTimeout = 5 * time.Second

// Server is the request server. It depends on, but never owns, the
// shared device manager, macro engine, storage, and security
// components; none of them references the server back.
type Server struct {
	socketPath string
	group      string
	mode       os.FileMode
	opTimeout  time.Duration

	devices  *device.Manager
	engine   *macro.Engine
	store    *persistence.Store
	sec      *security.Manager
	log      *logrus.Entry

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
}

// New constructs a request server bound to socketPath, to be chgrp'd
// to group and chmod'd to mode once listening.
func New(socketPath, group string, mode os.FileMode, devices *device.Manager, engine *macro.Engine, store *persistence.Store, sec *security.Manager, log *logrus.Entry) *Server {
	return &Server{
		socketPath: socketPath,
		group:      group,
		mode:       mode,
		opTimeout:  defaultOpTimeout,
		devices:    devices,
		engine:     engine,
		store:      store,
		sec:        sec,
		log:        log,
	}
}

// Start removes any stale socket file, binds the endpoint, hardens its
// ownership/permissions, and begins accepting connections. Idempotent.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if err := os.RemoveAll(s.socketPath); err != nil {
		return errs.Wrap(errs.PersistenceIOError, "remove stale socket", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return errs.Wrap(errs.PersistenceIOError, "create socket directory", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errs.Wrap(errs.PersistenceIOError, "listen on socket", err)
	}

	if err := security.HardenSocket(s.socketPath, s.group, s.mode, s.log); err != nil {
		listener.Close()
		return err
	}

	s.listener = listener
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	s.log.Infof("request server listening on %s", s.socketPath)
	return nil
}

// Stop closes the listener, waits for in-flight connection handlers
// to exit, and removes the socket file. In-flight macro executions
// are unaffected.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	os.RemoveAll(s.socketPath)
	s.log.Info("request server stopped")
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.log.WithError(err).Warn("accept failed")
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

// handleConnection serves one connection until it is closed by the
// client, framing violations, or shutdown. Authentication is
// connection-bound: once a connection authenticates successfully,
// every subsequent request on it is admitted without re-checking.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	authenticated := !s.sec.RequireToken()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetDeadline(time.Now().Add(s.opTimeout))
		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			return
		}

		req, err := protocol.DecodeRequest(payload)
		if err != nil {
			s.writeResponse(conn, protocol.ErrorResponse("malformed request"))
			return
		}

		resp, authed := s.dispatch(req, authenticated)
		authenticated = authed

		if err := s.writeResponse(conn, resp); err != nil {
			return
		}
	}
}

func (s *Server) writeResponse(conn net.Conn, resp protocol.Response) error {
	payload, err := protocol.EncodeResponse(resp)
	if err != nil {
		payload, _ = protocol.EncodeResponse(protocol.ErrorResponse("internal serialization error"))
	}
	conn.SetDeadline(time.Now().Add(s.opTimeout))
	return protocol.WriteFrame(conn, payload)
}

// dispatch routes req to the matching handler and returns the
// response plus the connection's authenticated state going forward.
func (s *Server) dispatch(req protocol.Request, authenticated bool) (protocol.Response, bool) {
	// GenerateToken and Authenticate always bypass the gate.
	switch req.Op {
	case protocol.OpGenerateToken:
		token := s.sec.GenerateToken(req.ClientID)
		return protocol.Response{Op: protocol.OpToken, Token: token}, authenticated
	case protocol.OpAuthenticate:
		if err := s.sec.Authenticate(req.Token); err != nil {
			return protocol.ErrorResponse(errMessage(err)), authenticated
		}
		return protocol.Response{Op: protocol.OpAuthenticated}, true
	}

	if s.sec.RequireToken() && !authenticated {
		authErr := errs.New(errs.AuthRequired, "Authentication required")
		return protocol.ErrorResponse(errMessage(authErr)), authenticated
	}

	return s.handle(req), authenticated
}

func (s *Server) handle(req protocol.Request) protocol.Response {
	switch req.Op {
	case protocol.OpGetDevices:
		return s.handleGetDevices()
	case protocol.OpSetMacro:
		return s.handleSetMacro(req)
	case protocol.OpListMacros:
		return protocol.Response{Op: protocol.OpMacros, Macros: s.engine.Store.List()}
	case protocol.OpDeleteMacro:
		if s.engine.Store.Delete(req.Name) {
			return protocol.Response{Op: protocol.OpAck}
		}
		return protocol.ErrorResponse("macro not found")
	case protocol.OpReloadConfig:
		return s.handleReloadConfig()
	case protocol.OpLedSet:
		return s.handleLedSet(req)
	case protocol.OpRecordMacro:
		return s.handleRecordMacro(req)
	case protocol.OpStopRecording:
		return s.handleStopRecording()
	case protocol.OpTestMacro:
		return s.handleExecute(req.Name)
	case protocol.OpExecuteMacro:
		return s.handleExecute(req.Name)
	case protocol.OpGetStatus:
		return s.handleGetStatus()
	case protocol.OpSaveProfile:
		return s.handleSaveProfile(req)
	case protocol.OpLoadProfile:
		return s.handleLoadProfile(req)
	case protocol.OpListProfiles:
		return s.handleListProfiles()
	case protocol.OpDeleteProfile:
		return s.handleDeleteProfile(req)
	case protocol.OpGrabDevice:
		return s.handleGrab(req)
	case protocol.OpUngrabDevice:
		return s.handleUngrab(req)
	default:
		return protocol.ErrorResponse("unknown request")
	}
}

func (s *Server) handleGetDevices() protocol.Response {
	descriptors := s.devices.Snapshot()
	out := make([]protocol.DeviceInfo, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, protocol.DeviceInfo{
			DeviceID: d.DeviceID,
			Name:     d.Name,
			Vendor:   d.Vendor,
			Product:  d.Product,
			Phys:     d.Phys,
		})
	}
	return protocol.Response{Op: protocol.OpDevices, Devices: out}
}

func (s *Server) handleSetMacro(req protocol.Request) protocol.Response {
	if !s.devices.Exists(req.Device) {
		return protocol.ErrorResponse("Device not found")
	}
	s.engine.Store.Set(req.Entry)
	return protocol.Response{Op: protocol.OpAck}
}

func (s *Server) handleReloadConfig() protocol.Response {
	entries, err := s.store.LoadMacros()
	if err != nil {
		return protocol.ErrorResponse(err.Error())
	}
	s.engine.Store.ReplaceAll(entries)
	if _, err := s.devices.Discover(); err != nil {
		return protocol.ErrorResponse(err.Error())
	}
	return protocol.Response{Op: protocol.OpAck}
}

func (s *Server) handleLedSet(req protocol.Request) protocol.Response {
	if !s.devices.Exists(req.Device) {
		return protocol.ErrorResponse("Device not found")
	}
	// The virtual input device created by the Injector has no LED
	// report descriptor (it synthesizes events, not HID feature
	// reports); LedSet is acknowledged as a protocol no-op.
	return protocol.Response{Op: protocol.OpAck}
}

func (s *Server) handleRecordMacro(req protocol.Request) protocol.Response {
	if !s.devices.Exists(req.Device) {
		return protocol.ErrorResponse("Device not found")
	}
	if err := s.engine.Recorder.Start(req.Name, req.Device); err != nil {
		return protocol.ErrorResponse(err.Error())
	}
	return protocol.Response{Op: protocol.OpRecordingStarted, RecordingName: req.Name}
}

func (s *Server) handleStopRecording() protocol.Response {
	entry, ok := s.engine.Recorder.Stop()
	if !ok {
		return protocol.ErrorResponse(errMessage(errs.New(errs.NoRecording, "no recording in progress")))
	}
	s.engine.Store.Set(entry)
	return protocol.Response{Op: protocol.OpRecordingStopped, RecordingEntry: entry}
}

// errMessage extracts the human-readable Message from a *errs.Error
// without the "Kind: " prefix Error() adds, so wire responses stay
// readable to callers that don't inspect Kind; any other error type
// falls back to its own Error() text.
func errMessage(err error) string {
	if e, ok := err.(*errs.Error); ok {
		return e.Message
	}
	return err.Error()
}

func (s *Server) handleExecute(name string) protocol.Response {
	if err := s.engine.Execute(name); err != nil {
		return protocol.ErrorResponse(err.Error())
	}
	return protocol.Response{Op: protocol.OpAck}
}

func (s *Server) handleGetStatus() protocol.Response {
	recording, name, deviceID := s.engine.Recorder.Active()
	return protocol.Response{
		Op: protocol.OpStatus,
		Status: protocol.StatusInfo{
			DeviceCount:       len(s.devices.Snapshot()),
			MacroCount:        s.engine.Store.Len(),
			ActiveExecutions:  s.engine.ActiveCount(),
			RecordingActive:   recording,
			RecordingName:     name,
			RecordingDeviceID: deviceID,
		},
	}
}

func (s *Server) handleSaveProfile(req protocol.Request) protocol.Response {
	if err := s.store.SaveProfile(req.Name, s.engine.Store.Snapshot()); err != nil {
		return protocol.ErrorResponse(err.Error())
	}
	return protocol.Response{Op: protocol.OpProfileSaved}
}

func (s *Server) handleLoadProfile(req protocol.Request) protocol.Response {
	entries, err := s.store.LoadProfile(req.Name)
	if err != nil {
		return protocol.ErrorResponse(err.Error())
	}
	count := s.engine.Store.Merge(entries)
	return protocol.Response{Op: protocol.OpProfileLoaded, Status: protocol.StatusInfo{MacroCount: count}}
}

func (s *Server) handleListProfiles() protocol.Response {
	names, err := s.store.ListProfiles()
	if err != nil {
		return protocol.ErrorResponse(err.Error())
	}
	return protocol.Response{Op: protocol.OpProfiles, ProfileNames: names}
}

func (s *Server) handleDeleteProfile(req protocol.Request) protocol.Response {
	if err := s.store.DeleteProfile(req.Name); err != nil {
		return protocol.ErrorResponse(err.Error())
	}
	return protocol.Response{Op: protocol.OpAck}
}

func (s *Server) handleGrab(req protocol.Request) protocol.Response {
	if err := s.devices.Grab(req.Device); err != nil {
		return protocol.ErrorResponse(err.Error())
	}
	return protocol.Response{Op: protocol.OpAck}
}

func (s *Server) handleUngrab(req protocol.Request) protocol.Response {
	if err := s.devices.Release(req.Device); err != nil {
		return protocol.ErrorResponse(err.Error())
	}
	return protocol.Response{Op: protocol.OpAck}
}
