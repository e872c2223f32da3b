package pldm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PLDM message types (DSP0245)
const (
	TypeBase     uint8 = 0x00
	TypePlatform uint8 = 0x02
	TypeFRU      uint8 = 0x04
)

// Commands used by the host PDR exchange
const (
	CmdGetPLDMVersion         uint8 = 0x03
	CmdGetStateSensorReadings uint8 = 0x21
	CmdPlatformEventMessage   uint8 = 0x0A
	CmdGetPDR                 uint8 = 0x51
)

// HeaderSize is the size of the PLDM message header in bytes.
const HeaderSize = 3

// MaxInstanceID is the highest instance ID a 5-bit field can carry.
const MaxInstanceID = 0x1F

// CompletionCode is the first byte of every PLDM response payload.
type CompletionCode uint8

const (
	Success             CompletionCode = 0x00
	ErrorGeneric        CompletionCode = 0x01
	ErrorInvalidData    CompletionCode = 0x02
	ErrorInvalidLength  CompletionCode = 0x03
	ErrorNotReady       CompletionCode = 0x04
	ErrorUnsupportedCmd CompletionCode = 0x05
	ErrorInvalidType    CompletionCode = 0x20

	// Platform command specific codes (DSP0248)
	PlatformInvalidSensorID               CompletionCode = 0x80
	PlatformUnsupportedEventFormatVersion CompletionCode = 0x81
	PlatformInvalidRecordHandle           CompletionCode = 0x82
)

func (c CompletionCode) String() string {
	switch c {
	case Success:
		return "success"
	case ErrorGeneric:
		return "error"
	case ErrorInvalidData:
		return "invalid_data"
	case ErrorInvalidLength:
		return "invalid_length"
	case ErrorNotReady:
		return "not_ready"
	case ErrorUnsupportedCmd:
		return "unsupported_cmd"
	case ErrorInvalidType:
		return "invalid_pldm_type"
	case PlatformInvalidSensorID:
		return "invalid_sensor_id"
	case PlatformUnsupportedEventFormatVersion:
		return "unsupported_event_format_version"
	case PlatformInvalidRecordHandle:
		return "invalid_record_handle"
	default:
		return fmt.Sprintf("cc_0x%02x", uint8(c))
	}
}

var (
	// ErrShortBuffer is returned when a payload ends before a field.
	ErrShortBuffer = errors.New("pldm: buffer too short")
	// ErrInvalidLength is returned when a length field disagrees with the payload.
	ErrInvalidLength = errors.New("pldm: invalid length")
	// ErrUnexpectedType is returned when a record or message has the wrong type.
	ErrUnexpectedType = errors.New("pldm: unexpected type")
)

// Header is the 3-byte PLDM message header.
type Header struct {
	Request    bool
	Datagram   bool
	InstanceID uint8
	Type       uint8
	Command    uint8
}

// Append encodes the header onto b.
func (h Header) Append(b []byte) []byte {
	var b0 byte
	if h.Request {
		b0 |= 0x80
	}
	if h.Datagram {
		b0 |= 0x40
	}
	b0 |= h.InstanceID & MaxInstanceID
	// header version is always 0
	return append(b, b0, h.Type&0x3F, h.Command)
}

// DecodeHeader splits msg into its header and payload.
func DecodeHeader(msg []byte) (Header, []byte, error) {
	if len(msg) < HeaderSize {
		return Header{}, nil, ErrShortBuffer
	}
	h := Header{
		Request:    msg[0]&0x80 != 0,
		Datagram:   msg[0]&0x40 != 0,
		InstanceID: msg[0] & MaxInstanceID,
		Type:       msg[1] & 0x3F,
		Command:    msg[2],
	}
	return h, msg[HeaderSize:], nil
}

// RequestHeader returns the header of a request message.
func RequestHeader(instanceID, pldmType, command uint8) Header {
	return Header{Request: true, InstanceID: instanceID, Type: pldmType, Command: command}
}

// ResponseHeader returns the response header matching a request header.
func ResponseHeader(req Header) Header {
	return Header{InstanceID: req.InstanceID, Type: req.Type, Command: req.Command}
}

// EncodeCompletionCodeResponse builds a response that carries only a completion code.
func EncodeCompletionCodeResponse(req Header, cc CompletionCode) []byte {
	return append(ResponseHeader(req).Append(make([]byte, 0, HeaderSize+1)), byte(cc))
}

// reader walks a little-endian payload, remembering the first error.
type reader struct {
	b   []byte
	off int
	err error
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if len(r.b)-r.off < n {
		r.err = ErrShortBuffer
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.b[r.off:r.off+n])
	r.off += n
	return v
}

func (r *reader) remaining() int { return len(r.b) - r.off }

func appendU16(b []byte, v uint16) []byte { return binary.LittleEndian.AppendUint16(b, v) }
func appendU32(b []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(b, v) }
