// Package protocol defines the request/response wire types and the
// length-framed message transport between the daemon and its clients.
//
// Payloads are serialized with encoding/gob: both ends of the socket
// are builds of these same Go types, gob is self-describing across
// them, and it needs no schema-generation step.
package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"

	"github.com/razermapper/razermapperd/internal/errs"
	"github.com/razermapper/razermapperd/internal/macro"
)

// MaxMessageSize is the largest payload accepted on the wire.
const MaxMessageSize = 1 << 20 // 1 MiB

// RequestOp names one of the request variants.
type RequestOp string

const (
	OpGetDevices     RequestOp = "GetDevices"
	OpSetMacro       RequestOp = "SetMacro"
	OpListMacros     RequestOp = "ListMacros"
	OpDeleteMacro    RequestOp = "DeleteMacro"
	OpReloadConfig   RequestOp = "ReloadConfig"
	OpLedSet         RequestOp = "LedSet"
	OpRecordMacro    RequestOp = "RecordMacro"
	OpStopRecording  RequestOp = "StopRecording"
	OpTestMacro      RequestOp = "TestMacro"
	OpExecuteMacro   RequestOp = "ExecuteMacro"
	OpGetStatus      RequestOp = "GetStatus"
	OpSaveProfile    RequestOp = "SaveProfile"
	OpLoadProfile    RequestOp = "LoadProfile"
	OpListProfiles   RequestOp = "ListProfiles"
	OpDeleteProfile  RequestOp = "DeleteProfile"
	OpGenerateToken  RequestOp = "GenerateToken"
	OpAuthenticate   RequestOp = "Authenticate"
	OpGrabDevice     RequestOp = "GrabDevice"
	OpUngrabDevice   RequestOp = "UngrabDevice"
)

// ResponseOp names one of the response variants.
type ResponseOp string

const (
	OpDevices          ResponseOp = "Devices"
	OpMacros           ResponseOp = "Macros"
	OpAck              ResponseOp = "Ack"
	OpStatus           ResponseOp = "Status"
	OpRecordingStarted ResponseOp = "RecordingStarted"
	OpRecordingStopped ResponseOp = "RecordingStopped"
	OpProfiles         ResponseOp = "Profiles"
	OpProfileLoaded    ResponseOp = "ProfileLoaded"
	OpProfileSaved     ResponseOp = "ProfileSaved"
	OpToken            ResponseOp = "Token"
	OpAuthenticated    ResponseOp = "Authenticated"
	OpError            ResponseOp = "Error"
)

// DeviceInfo is the wire shape of a device descriptor.
type DeviceInfo struct {
	DeviceID string
	Name     string
	Vendor   uint16
	Product  uint16
	Phys     string
}

// RGB is a three-channel LED color.
type RGB struct{ R, G, B uint8 }

// StatusInfo answers GetStatus.
type StatusInfo struct {
	DeviceCount       int
	MacroCount        int
	ActiveExecutions  int
	RecordingActive   bool
	RecordingName     string
	RecordingDeviceID string
}

// Request is a tagged union over every request variant. Only the
// fields relevant to Op are populated.
type Request struct {
	Op RequestOp

	Device   string // GetDevices: unused; SetMacro/LedSet/RecordMacro/GrabDevice/UngrabDevice
	Entry    macro.Entry
	Name     string // DeleteMacro/RecordMacro/TestMacro/ExecuteMacro/SaveProfile/LoadProfile/DeleteProfile
	Color    RGB
	ClientID string // GenerateToken
	Token    string // Authenticate
}

// Response is a tagged union over every response variant.
type Response struct {
	Op ResponseOp

	Devices        []DeviceInfo
	Macros         []macro.Entry
	Status         StatusInfo
	ProfileNames   []string
	Token          string
	Message        string // Error
	RecordingName  string
	RecordingEntry macro.Entry
}

func init() {
	gob.Register(macro.Entry{})
}

// EncodeRequest serializes req with gob.
func EncodeRequest(req Request) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(req); err != nil {
		return nil, errs.Wrap(errs.SerializationError, "encode request", err)
	}
	return buf.Bytes(), nil
}

// DecodeRequest deserializes a request payload.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&req); err != nil {
		return Request{}, errs.Wrap(errs.SerializationError, "decode request", err)
	}
	return req, nil
}

// EncodeResponse serializes resp with gob.
func EncodeResponse(resp Response) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(resp); err != nil {
		return nil, errs.Wrap(errs.SerializationError, "encode response", err)
	}
	return buf.Bytes(), nil
}

// DecodeResponse deserializes a response payload.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&resp); err != nil {
		return Response{}, errs.Wrap(errs.SerializationError, "decode response", err)
	}
	return resp, nil
}

// ErrorResponse builds a Response carrying an Error(message).
func ErrorResponse(message string) Response {
	return Response{Op: OpError, Message: message}
}

// WriteFrame writes a 4-byte little-endian length prefix followed by
// payload. Payloads over MaxMessageSize are rejected without writing
// anything.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return errs.New(errs.MessageTooLarge, "payload exceeds MAX_MESSAGE_SIZE")
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame. A length of zero or
// exceeding MaxMessageSize is rejected with MessageTooLarge; the
// caller is expected to close the connection on that error.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length == 0 || length > MaxMessageSize {
		return nil, errs.New(errs.MessageTooLarge, "frame length out of bounds")
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
