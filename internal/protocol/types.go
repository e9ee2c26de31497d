package protocol

import "fmt"

// PacketType identifies the role of a packet on the wire.
type PacketType uint16

// Reserved packet types.
const (
	TypeHostHello   PacketType = 0x0001
	TypeDeviceHello PacketType = 0x0002
	TypeHostAck     PacketType = 0x0003
	TypeData        PacketType = 0x0004
	TypeError       PacketType = 0x0005
)

func (t PacketType) String() string {
	switch t {
	case TypeHostHello:
		return "host_hello"
	case TypeDeviceHello:
		return "device_hello"
	case TypeHostAck:
		return "host_ack"
	case TypeData:
		return "data"
	case TypeError:
		return "error"
	default:
		return fmt.Sprintf("unknown(0x%04x)", uint16(t))
	}
}

// ErrorCode is the leading u16 of an Error packet payload.
type ErrorCode uint16

// Reserved error codes. Codes outside this set belong to application code.
const (
	ErrCodeUnknownPacketType          ErrorCode = 0x0001
	ErrCodeMalformedPacket            ErrorCode = 0x0002
	ErrCodeUnsupportedProtocolVersion ErrorCode = 0x0003
	ErrCodeMissingCapabilities        ErrorCode = 0x0004
	ErrCodeHandshakeNotCompleted      ErrorCode = 0x0005
	ErrCodeInternalError              ErrorCode = 0x00FF
)

// IsReserved reports whether c is one of the protocol-owned error codes.
func (c ErrorCode) IsReserved() bool {
	switch c {
	case ErrCodeUnknownPacketType,
		ErrCodeMalformedPacket,
		ErrCodeUnsupportedProtocolVersion,
		ErrCodeMissingCapabilities,
		ErrCodeHandshakeNotCompleted,
		ErrCodeInternalError:
		return true
	default:
		return false
	}
}

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeUnknownPacketType:
		return "unknown_packet_type"
	case ErrCodeMalformedPacket:
		return "malformed_packet"
	case ErrCodeUnsupportedProtocolVersion:
		return "unsupported_protocol_version"
	case ErrCodeMissingCapabilities:
		return "missing_capabilities"
	case ErrCodeHandshakeNotCompleted:
		return "handshake_not_completed"
	case ErrCodeInternalError:
		return "internal_error"
	default:
		return fmt.Sprintf("app(0x%04x)", uint16(c))
	}
}

// CodeHeaderLen is the size of the u16 code leading Data and Error payloads.
const CodeHeaderLen = 2

// Packet is one transport-delivered unit.
type Packet struct {
	Type    PacketType
	Payload []byte
}

func (p Packet) String() string {
	return fmt.Sprintf("Packet(type=%s, len=%d)", p.Type, len(p.Payload))
}
