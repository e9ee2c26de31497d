package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/fraiselink/internal/protocol"
)

func TestChecksumKnownVector(t *testing.T) {
	if got := Checksum([]byte("123456789")); got != 0xF4 {
		t.Fatalf("crc8 check value got=0x%02x want=0xf4", got)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	cases := []protocol.Packet{
		{Type: protocol.TypeHostAck},
		{Type: protocol.TypeData, Payload: []byte{0x00, 0x90}},
		{Type: protocol.TypeError, Payload: []byte{0x00, 0x00, 0x00}},
		{Type: protocol.TypeDeviceHello, Payload: bytes.Repeat([]byte{0x5a}, 600)},
	}
	for _, in := range cases {
		wire, err := Marshal(in, DefaultLimits())
		if err != nil {
			t.Fatalf("marshal %s: %v", in, err)
		}
		if wire[len(wire)-1] != Delimiter {
			t.Fatalf("frame must end with delimiter")
		}
		if bytes.IndexByte(wire[:len(wire)-1], Delimiter) >= 0 {
			t.Fatalf("delimiter leaked into frame body: % x", wire)
		}
		out, err := Unmarshal(wire[:len(wire)-1], DefaultLimits())
		if err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		if out.Type != in.Type || !bytes.Equal(out.Payload, in.Payload) {
			t.Fatalf("round trip mismatch got=%s want=%s", out, in)
		}
	}
}

func TestUnmarshalChecksumMismatch(t *testing.T) {
	wire, err := Marshal(protocol.Packet{Type: protocol.TypeData, Payload: []byte{1, 2, 3}}, DefaultLimits())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	raw, err := cobsDecode(wire[:len(wire)-1])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	raw[len(raw)-1] ^= 0xff
	_, err = Unmarshal(cobsEncode(raw), DefaultLimits())
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
}

func TestUnmarshalShortAndInvalid(t *testing.T) {
	if _, err := Unmarshal(cobsEncode([]byte{0x01, 0x00}), DefaultLimits()); !errors.Is(err, ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
	if _, err := Unmarshal([]byte{0x05, 0x01}, DefaultLimits()); !errors.Is(err, ErrInvalidCOBS) {
		t.Fatalf("expected ErrInvalidCOBS, got %v", err)
	}
}

func TestMarshalRejectsOversizedPayload(t *testing.T) {
	limits := Limits{MaxPayloadBytes: 8}
	_, err := Marshal(protocol.Packet{Type: protocol.TypeData, Payload: make([]byte, 9)}, limits)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestReaderRecoversAfterCorruptFrame(t *testing.T) {
	var stream bytes.Buffer
	stream.Write([]byte{Delimiter, Delimiter})
	stream.Write([]byte{0x07, 0x01, 0x02, Delimiter})
	if err := WritePacket(&stream, protocol.Packet{Type: protocol.TypeHostAck}, DefaultLimits()); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewReader(&stream, DefaultLimits())
	if _, err := r.ReadPacket(); !IsCorrupt(err) {
		t.Fatalf("expected corrupt frame error, got %v", err)
	}
	p, err := r.ReadPacket()
	if err != nil {
		t.Fatalf("read after corrupt frame: %v", err)
	}
	if p.Type != protocol.TypeHostAck {
		t.Fatalf("unexpected packet %s", p)
	}
	if _, err := r.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReaderDropsOversizedFrame(t *testing.T) {
	limits := Limits{MaxPayloadBytes: 4}
	var stream bytes.Buffer
	stream.Write(bytes.Repeat([]byte{0x11}, 64))
	stream.WriteByte(Delimiter)
	if err := WritePacket(&stream, protocol.Packet{Type: protocol.TypeData, Payload: []byte{0, 1}}, limits); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewReader(&stream, limits)
	if _, err := r.ReadPacket(); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	p, err := r.ReadPacket()
	if err != nil || p.Type != protocol.TypeData {
		t.Fatalf("expected data packet after oversized frame, got %s err=%v", p, err)
	}
}
