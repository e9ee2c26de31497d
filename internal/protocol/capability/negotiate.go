package capability

import (
	"fmt"

	"github.com/danmuck/fraiselink/internal/protocol"
	"github.com/danmuck/fraiselink/internal/protocol/codec"
)

// hostHelloHeaderLen covers the u16 version and the u8 count.
const hostHelloHeaderLen = 3

// NegotiationError carries the reserved error code reported to the peer.
type NegotiationError struct {
	Code protocol.ErrorCode
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("capability: negotiation failed code=%s: %v", e.Code, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

func fail(code protocol.ErrorCode, err error) *NegotiationError {
	return &NegotiationError{Code: code, Err: err}
}

type announced struct {
	capability Capability
	data       []byte
}

// Negotiate validates a HostHello payload against the required set and, when
// every check passes, deserializes each announced capability in place.
//
// All structural checks run before any capability is touched, so a rejected
// announcement never mutates registered capabilities. If a capability fails
// to deserialize, the ones already applied are restored from snapshots taken
// beforehand and the whole negotiation fails with MalformedPacket. Any
// announced id that is not required fails with MissingCapabilities.
func Negotiate(payload []byte, version uint16, required *Set) error {
	if len(payload) < hostHelloHeaderLen {
		return fail(protocol.ErrCodeMalformedPacket, ErrShortHello)
	}
	dec := codec.NewDecoder(payload)
	got, _ := dec.PopU16()
	if got != version {
		return fail(protocol.ErrCodeUnsupportedProtocolVersion,
			fmt.Errorf("%w: got %d want %d", ErrVersionMismatch, got, version))
	}
	count, _ := dec.PopU8()

	matches := make([]announced, 0, count)
	seen := make(map[uint16]struct{}, count)
	for i := 0; i < int(count); i++ {
		a, err := popAnnouncement(dec)
		if err != nil {
			return fail(protocol.ErrCodeMalformedPacket, fmt.Errorf("entry %d: %w", i, err))
		}
		c, ok := required.Find(a.ID)
		if !ok {
			return fail(protocol.ErrCodeMissingCapabilities,
				fmt.Errorf("%w: id=0x%04x", ErrUnknownCapability, a.ID))
		}
		if len(a.Payload) < int(c.MinSize()) {
			return fail(protocol.ErrCodeMalformedPacket,
				fmt.Errorf("%w: id=0x%04x size=%d min=%d", ErrCapabilityTooSmall, a.ID, len(a.Payload), c.MinSize()))
		}
		seen[a.ID] = struct{}{}
		matches = append(matches, announced{capability: c, data: a.Payload})
	}

	for _, c := range required.All() {
		if _, ok := seen[c.ID()]; !ok {
			return fail(protocol.ErrCodeMissingCapabilities,
				fmt.Errorf("%w: id=0x%04x", ErrNotAnnounced, c.ID()))
		}
	}

	snapshots := make([][]byte, len(matches))
	for i, m := range matches {
		snapshots[i] = codec.Marshal(m.capability)
	}
	for i, m := range matches {
		if err := m.capability.Deserialize(codec.NewDecoder(m.data)); err != nil {
			restore(matches[:i+1], snapshots)
			return fail(protocol.ErrCodeMalformedPacket,
				fmt.Errorf("%w: id=0x%04x: %v", ErrCapabilityDecode, m.capability.ID(), err))
		}
	}
	return nil
}

// restore rolls applied capabilities back to their pre-negotiation bytes.
func restore(applied []announced, snapshots [][]byte) {
	for i, m := range applied {
		_ = codec.Unmarshal(snapshots[i], m.capability)
	}
}
