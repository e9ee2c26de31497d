package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/danmuck/fraiselink/internal/protocol/capability"
)

// Bytes decodes the hex payload. Whitespace and a leading 0x are ignored.
func (e CapabilityEntry) Bytes() ([]byte, error) {
	s := strings.Join(strings.Fields(e.Payload), "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	out, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("payload is not hex: %w", err)
	}
	return out, nil
}

func (e CapabilityEntry) Static() (*capability.Static, error) {
	payload, err := e.Bytes()
	if err != nil {
		return nil, err
	}
	return capability.NewStatic(e.ID, e.MinSize, payload), nil
}

// Required returns the capabilities the device requires, in manifest order.
func (m Manifest) Required() ([]*capability.Static, error) {
	return m.statics(CapabilityEntry.requires)
}

// Offered returns the capabilities the device advertises, in manifest order.
func (m Manifest) Offered() ([]*capability.Static, error) {
	return m.statics(CapabilityEntry.offers)
}

func (m Manifest) statics(keep func(CapabilityEntry) bool) ([]*capability.Static, error) {
	out := make([]*capability.Static, 0, len(m.Capabilities))
	for _, entry := range m.Capabilities {
		if !keep(entry) {
			continue
		}
		c, err := entry.Static()
		if err != nil {
			return nil, fmt.Errorf("capability 0x%04x: %w", entry.ID, err)
		}
		out = append(out, c)
	}
	return out, nil
}
