package capability

import "github.com/danmuck/fraiselink/internal/protocol/codec"

// Static is an opaque capability whose payload is a fixed byte run. It
// serializes its configured bytes and records whatever the peer announced.
type Static struct {
	id      uint16
	minSize uint16
	payload []byte
}

func NewStatic(id, minSize uint16, payload []byte) *Static {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return &Static{id: id, minSize: minSize, payload: buf}
}

func (s *Static) ID() uint16      { return s.id }
func (s *Static) MinSize() uint16 { return s.minSize }

func (s *Static) Serialize(enc *codec.Encoder) {
	enc.PushBytes(s.payload)
}

// Deserialize accepts any length. Negotiate enforces MinSize on the wire, and
// a restored snapshot may be shorter than the minimum.
func (s *Static) Deserialize(dec *codec.Decoder) error {
	s.payload = dec.Rest()
	return nil
}

// Payload returns a copy of the current payload.
func (s *Static) Payload() []byte {
	out := make([]byte, len(s.payload))
	copy(out, s.payload)
	return out
}
