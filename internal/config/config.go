// Package config loads the capability manifest shared by both ends of a
// link: which capabilities the device requires from the host and which it
// offers back.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	RoleRequired = "required"
	RoleOffered  = "offered"
	RoleBoth     = "both"
)

type Manifest struct {
	Name         string            `toml:"name"`
	DeviceID     uint32            `toml:"device_id"`
	Serial       string            `toml:"serial"`
	Version      uint16            `toml:"version"`
	Capabilities []CapabilityEntry `toml:"capabilities"`
}

type CapabilityEntry struct {
	ID      uint16 `toml:"id"`
	Name    string `toml:"name"`
	Role    string `toml:"role"`
	MinSize uint16 `toml:"min_size"`
	Payload string `toml:"payload"`
}

func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	if err := loadToml(path, &m); err != nil {
		return Manifest{}, err
	}
	return normalize(m)
}

// ParseManifest decodes and validates manifest TOML.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest parse failed: %w", err)
	}
	return normalize(m)
}

func normalize(m Manifest) (Manifest, error) {
	if m.Name == "" {
		m.Name = "fraiselink"
	}
	for i := range m.Capabilities {
		m.Capabilities[i].Role = strings.ToLower(strings.TrimSpace(m.Capabilities[i].Role))
		if m.Capabilities[i].Role == "" {
			m.Capabilities[i].Role = RoleBoth
		}
	}
	if err := ValidateManifest(m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateManifest(m Manifest) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("manifest missing name")
	}
	required := make(map[uint16]struct{})
	for i, entry := range m.Capabilities {
		if err := ValidateCapabilityEntry(entry); err != nil {
			return fmt.Errorf("capabilities[%d] invalid: %w", i, err)
		}
		if entry.requires() {
			if _, dup := required[entry.ID]; dup {
				return fmt.Errorf("capabilities[%d] invalid: duplicate required id 0x%04x", i, entry.ID)
			}
			required[entry.ID] = struct{}{}
		}
	}
	return nil
}

func ValidateCapabilityEntry(e CapabilityEntry) error {
	switch e.Role {
	case RoleRequired, RoleOffered, RoleBoth:
	default:
		return fmt.Errorf("unknown role %q", e.Role)
	}
	payload, err := e.Bytes()
	if err != nil {
		return err
	}
	if len(payload) > 0xFFFF {
		return fmt.Errorf("payload exceeds 65535 bytes")
	}
	if len(payload) < int(e.MinSize) {
		return fmt.Errorf("payload shorter than min_size (%d < %d)", len(payload), e.MinSize)
	}
	return nil
}

func (e CapabilityEntry) requires() bool {
	return e.Role == RoleRequired || e.Role == RoleBoth
}

func (e CapabilityEntry) offers() bool {
	return e.Role == RoleOffered || e.Role == RoleBoth
}
