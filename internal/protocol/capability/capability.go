// Package capability implements the capability contract exchanged during the
// handshake: the registration arena, the negotiator for inbound HostHello
// announcements, and the hello payload encoders.
package capability

import (
	"errors"

	"github.com/danmuck/fraiselink/internal/protocol/codec"
)

// MaxCount is the largest capability list a hello can carry (u8 count).
const MaxCount = 0xFF

// MaxPayloadLen is the largest capability payload a hello can carry (u16 size).
const MaxPayloadLen = 0xFFFF

var (
	ErrNilCapability       = errors.New("capability: nil capability")
	ErrDuplicateCapability = errors.New("capability: duplicate capability id")
	ErrTooManyCapabilities = errors.New("capability: too many capabilities")
	ErrCapabilityTooLarge  = errors.New("capability: serialized capability too large")
	ErrShortHello          = errors.New("capability: hello payload too short")
	ErrTruncatedCapability = errors.New("capability: capability entry exceeds payload")
	ErrVersionMismatch     = errors.New("capability: unsupported protocol version")
	ErrUnknownCapability   = errors.New("capability: announced capability not required")
	ErrNotAnnounced        = errors.New("capability: required capability not announced")
	ErrCapabilityTooSmall  = errors.New("capability: capability smaller than minimum size")
	ErrCapabilityDecode    = errors.New("capability: capability payload rejected")
)

// Capability is a versioned, self-serializing feature descriptor.
//
// Deserialize receives a decoder bounded to exactly the announced payload and
// mutates the capability in place; the same object is reused across
// reconnects.
type Capability interface {
	codec.Serializable
	codec.Deserializable
	ID() uint16
	MinSize() uint16
}

// Handle addresses a capability inside the Set it was registered with.
type Handle int

// Set is an ordered arena of registered capabilities. Ownership of the
// capability objects stays with the registering code; the set only holds
// references and resolves them by Handle or id.
type Set struct {
	caps   []Capability
	unique bool
}

// NewRequiredSet returns a set that rejects duplicate ids, used for the
// capabilities the local side requires from the peer.
func NewRequiredSet() *Set {
	return &Set{unique: true}
}

// NewOfferedSet returns a set whose registration order is the advertised
// wire order.
func NewOfferedSet() *Set {
	return &Set{}
}

// Add registers c and returns its handle.
func (s *Set) Add(c Capability) (Handle, error) {
	if c == nil {
		return -1, ErrNilCapability
	}
	if len(s.caps) >= MaxCount {
		return -1, ErrTooManyCapabilities
	}
	if s.unique {
		if _, ok := s.Find(c.ID()); ok {
			return -1, ErrDuplicateCapability
		}
	}
	s.caps = append(s.caps, c)
	return Handle(len(s.caps) - 1), nil
}

// Get resolves h, returning nil for a handle this set never issued.
func (s *Set) Get(h Handle) Capability {
	if h < 0 || int(h) >= len(s.caps) {
		return nil
	}
	return s.caps[h]
}

// Find scans for the first capability with id.
func (s *Set) Find(id uint16) (Capability, bool) {
	for _, c := range s.caps {
		if c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

func (s *Set) Len() int {
	return len(s.caps)
}

// All returns the registered capabilities in registration order.
func (s *Set) All() []Capability {
	out := make([]Capability, len(s.caps))
	copy(out, s.caps)
	return out
}
