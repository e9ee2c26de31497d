// Package codec implements the width-typed big-endian byte codec used for
// every multi-byte field on the wire.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrUnderrun is returned when a pop needs more bytes than remain.
var ErrUnderrun = errors.New("codec: buffer underrun")

// Serializable values know how to append themselves to an Encoder.
type Serializable interface {
	Serialize(enc *Encoder)
}

// Deserializable values populate themselves from a Decoder bounded to
// exactly their own bytes.
type Deserializable interface {
	Deserialize(dec *Decoder) error
}

// Encoder appends fixed-width values to a growable buffer.
type Encoder struct {
	buf []byte
}

func NewEncoder(capacity int) *Encoder {
	return &Encoder{buf: make([]byte, 0, capacity)}
}

func (e *Encoder) PushU8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *Encoder) PushU16(v uint16) {
	e.buf = binary.BigEndian.AppendUint16(e.buf, v)
}

func (e *Encoder) PushU32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) PushU64(v uint64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, v)
}

func (e *Encoder) PushI32(v int32) {
	e.PushU32(uint32(v))
}

func (e *Encoder) PushF32(v float32) {
	e.PushU32(math.Float32bits(v))
}

func (e *Encoder) PushBool(v bool) {
	if v {
		e.PushU8(1)
		return
	}
	e.PushU8(0)
}

func (e *Encoder) PushBytes(b []byte) {
	e.buf = append(e.buf, b...)
}

// PushValue serializes v in place.
func (e *Encoder) PushValue(v Serializable) {
	if v == nil {
		return
	}
	v.Serialize(e)
}

// Bytes returns the encoded bytes. The slice aliases the encoder buffer.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) Len() int {
	return len(e.buf)
}

// Marshal serializes v into a fresh byte slice.
func Marshal(v Serializable) []byte {
	enc := NewEncoder(16)
	enc.PushValue(v)
	return enc.Bytes()
}

// Decoder pops fixed-width values from a byte span. Every pop fails with
// ErrUnderrun, without consuming, when the span is too short.
type Decoder struct {
	data []byte
	off  int
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Remaining reports how many bytes are left to pop.
func (d *Decoder) Remaining() int {
	return len(d.data) - d.off
}

func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d have %d", ErrUnderrun, n, d.Remaining())
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *Decoder) PopU8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) PopU16() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *Decoder) PopU32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *Decoder) PopU64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (d *Decoder) PopI32() (int32, error) {
	v, err := d.PopU32()
	return int32(v), err
}

func (d *Decoder) PopF32() (float32, error) {
	v, err := d.PopU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// PopBool treats any non-zero byte as true.
func (d *Decoder) PopBool() (bool, error) {
	v, err := d.PopU8()
	return v != 0, err
}

// PopBytes returns a copy of the next n bytes.
func (d *Decoder) PopBytes(n int) ([]byte, error) {
	b, err := d.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Rest returns a copy of everything not yet popped.
func (d *Decoder) Rest() []byte {
	out, _ := d.PopBytes(d.Remaining())
	return out
}

// Unmarshal runs v.Deserialize over data.
func Unmarshal(data []byte, v Deserializable) error {
	return v.Deserialize(NewDecoder(data))
}
