// Package frame moves packets over a byte stream.
//
// Wire layout, all integers big-endian:
//
//	COBS( crc8 | u16 type | payload ) 0x00
//
// The CRC covers the type and payload. Frames are delimited by a single zero
// byte, which COBS guarantees never appears inside a frame.
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"github.com/danmuck/fraiselink/internal/protocol"
)

const (
	Delimiter byte = 0x00

	crcLen    = 1
	typeLen   = 2
	headerLen = crcLen + typeLen
)

var (
	ErrShortFrame      = errors.New("frame: short frame")
	ErrChecksum        = errors.New("frame: checksum mismatch")
	ErrInvalidCOBS     = errors.New("frame: invalid cobs encoding")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 4 * 1024,
	}
}

func (l Limits) maxEncodedLen() int {
	return encodedLen(l.MaxPayloadBytes + headerLen)
}

// IsCorrupt reports whether err describes a single bad frame rather than a
// broken stream. Readers can keep going after a corrupt frame.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrShortFrame) ||
		errors.Is(err, ErrChecksum) ||
		errors.Is(err, ErrInvalidCOBS) ||
		errors.Is(err, ErrPayloadTooLarge)
}

// Marshal encodes p into one delimited wire frame.
func Marshal(p protocol.Packet, limits Limits) ([]byte, error) {
	if len(p.Payload) > limits.MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	raw := make([]byte, headerLen+len(p.Payload))
	binary.BigEndian.PutUint16(raw[crcLen:headerLen], uint16(p.Type))
	copy(raw[headerLen:], p.Payload)
	raw[0] = Checksum(raw[crcLen:])

	out := cobsEncode(raw)
	return append(out, Delimiter), nil
}

// Unmarshal decodes one frame body, without its trailing delimiter.
func Unmarshal(body []byte, limits Limits) (protocol.Packet, error) {
	raw, err := cobsDecode(body)
	if err != nil {
		return protocol.Packet{}, err
	}
	if len(raw) < headerLen {
		return protocol.Packet{}, ErrShortFrame
	}
	if len(raw)-headerLen > limits.MaxPayloadBytes {
		return protocol.Packet{}, ErrPayloadTooLarge
	}
	if Checksum(raw[crcLen:]) != raw[0] {
		return protocol.Packet{}, ErrChecksum
	}
	return protocol.Packet{
		Type:    protocol.PacketType(binary.BigEndian.Uint16(raw[crcLen:headerLen])),
		Payload: raw[headerLen:],
	}, nil
}

// WritePacket encodes p and writes it to w in a single call.
func WritePacket(w io.Writer, p protocol.Packet, limits Limits) error {
	b, err := Marshal(p, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Reader splits a byte stream into packets.
type Reader struct {
	br     *bufio.Reader
	limits Limits
	buf    []byte
}

func NewReader(r io.Reader, limits Limits) *Reader {
	return &Reader{br: bufio.NewReader(r), limits: limits}
}

// ReadPacket blocks until the next delimiter. Corrupt frames are reported
// with an error satisfying IsCorrupt; the reader is positioned after the bad
// frame and may be called again. Any other error comes from the stream.
func (r *Reader) ReadPacket() (protocol.Packet, error) {
	r.buf = r.buf[:0]
	overflow := false
	max := r.limits.maxEncodedLen()
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			return protocol.Packet{}, err
		}
		if b == Delimiter {
			if overflow {
				return protocol.Packet{}, ErrPayloadTooLarge
			}
			if len(r.buf) == 0 {
				continue
			}
			return Unmarshal(r.buf, r.limits)
		}
		if overflow {
			continue
		}
		if len(r.buf) >= max {
			overflow = true
			continue
		}
		r.buf = append(r.buf, b)
	}
}
