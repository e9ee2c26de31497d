package codec

import (
	"bytes"
	"errors"
	"testing"
)

type sample struct {
	Pressed bool
	Light   int32
	Temp    float32
}

func (s sample) Serialize(enc *Encoder) {
	enc.PushBool(s.Pressed)
	enc.PushI32(s.Light)
	enc.PushF32(s.Temp)
}

func (s *sample) Deserialize(dec *Decoder) error {
	var err error
	if s.Pressed, err = dec.PopBool(); err != nil {
		return err
	}
	if s.Light, err = dec.PopI32(); err != nil {
		return err
	}
	s.Temp, err = dec.PopF32()
	return err
}

func TestEncoderBigEndianLayout(t *testing.T) {
	enc := NewEncoder(0)
	enc.PushU16(0x0102)
	enc.PushU32(0x03040506)
	enc.PushU8(0x07)
	enc.PushBytes([]byte{0x08, 0x09})
	want := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}
	if !bytes.Equal(enc.Bytes(), want) {
		t.Fatalf("layout mismatch got=% x want=% x", enc.Bytes(), want)
	}
	if enc.Len() != len(want) {
		t.Fatalf("len mismatch got=%d", enc.Len())
	}
}

func TestSerializableValue(t *testing.T) {
	in := sample{Pressed: true, Light: -12, Temp: 21.5}
	data := Marshal(in)
	if len(data) != 9 {
		t.Fatalf("expected 9 bytes, got %d", len(data))
	}
	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("value mismatch got=%+v want=%+v", out, in)
	}
}

func TestDecoderUnderrunIsDeterministic(t *testing.T) {
	dec := NewDecoder([]byte{0x01, 0x02, 0x03})
	if _, err := dec.PopU32(); !errors.Is(err, ErrUnderrun) {
		t.Fatalf("expected ErrUnderrun, got %v", err)
	}
	if dec.Remaining() != 3 {
		t.Fatalf("failed pop must not consume, remaining=%d", dec.Remaining())
	}
	v, err := dec.PopU16()
	if err != nil || v != 0x0102 {
		t.Fatalf("pop u16 got=0x%04x err=%v", v, err)
	}
	if _, err := dec.PopBytes(2); !errors.Is(err, ErrUnderrun) {
		t.Fatalf("expected ErrUnderrun, got %v", err)
	}
	if rest := dec.Rest(); !bytes.Equal(rest, []byte{0x03}) {
		t.Fatalf("rest mismatch % x", rest)
	}
	if dec.Remaining() != 0 {
		t.Fatalf("expected drained decoder")
	}
}

func TestPopBytesCopies(t *testing.T) {
	src := []byte{0xaa, 0xbb}
	dec := NewDecoder(src)
	out, err := dec.PopBytes(2)
	if err != nil {
		t.Fatalf("pop bytes: %v", err)
	}
	src[0] = 0
	if out[0] != 0xaa {
		t.Fatalf("PopBytes must copy")
	}
}
