// Package identity provides the stable u32 device identifier announced in
// DeviceHello.
package identity

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Provider exposes a stable device identifier.
type Provider interface {
	DeviceID() uint32
}

// Fixed is a configured identifier.
type Fixed uint32

func (f Fixed) DeviceID() uint32 {
	return uint32(f)
}

// Hashed derives the identifier from a stable hardware serial string. The
// hash is computed once and cached.
type Hashed struct {
	serial string
	once   sync.Once
	id     uint32
}

// FromSerial hashes serial with xxhash and folds the 64-bit digest to 32 bits.
func FromSerial(serial string) *Hashed {
	return &Hashed{serial: strings.TrimSpace(serial)}
}

func (h *Hashed) DeviceID() uint32 {
	h.once.Do(func() {
		sum := xxhash.Sum64String(h.serial)
		h.id = uint32(sum>>32) ^ uint32(sum)
	})
	return h.id
}

// Resolve prefers a non-zero custom id over the serial-derived one.
func Resolve(custom uint32, serial string) Provider {
	if custom > 0 {
		return Fixed(custom)
	}
	return FromSerial(serial)
}

// Format renders an id the way hosts display it.
func Format(id uint32) string {
	return fmt.Sprintf("%08x", id)
}
