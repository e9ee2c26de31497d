package capability

import (
	"fmt"

	"github.com/danmuck/fraiselink/internal/protocol/codec"
)

// deviceHelloHeaderLen covers the u32 device id and the u8 count.
const deviceHelloHeaderLen = 5

// Announcement is one `{u16 id, u16 size, size bytes}` hello entry.
type Announcement struct {
	ID      uint16
	Payload []byte
}

func popAnnouncement(dec *codec.Decoder) (Announcement, error) {
	id, err := dec.PopU16()
	if err != nil {
		return Announcement{}, ErrTruncatedCapability
	}
	size, err := dec.PopU16()
	if err != nil {
		return Announcement{}, ErrTruncatedCapability
	}
	data, err := dec.PopBytes(int(size))
	if err != nil {
		return Announcement{}, fmt.Errorf("%w: id=0x%04x size=%d remaining=%d",
			ErrTruncatedCapability, id, size, dec.Remaining())
	}
	return Announcement{ID: id, Payload: data}, nil
}

func pushAnnouncements(enc *codec.Encoder, set *Set) error {
	caps := set.All()
	if len(caps) > MaxCount {
		return ErrTooManyCapabilities
	}
	enc.PushU8(uint8(len(caps)))
	for _, c := range caps {
		data := codec.Marshal(c)
		if len(data) > MaxPayloadLen {
			return fmt.Errorf("%w: id=0x%04x size=%d", ErrCapabilityTooLarge, c.ID(), len(data))
		}
		enc.PushU16(c.ID())
		enc.PushU16(uint16(len(data)))
		enc.PushBytes(data)
	}
	return nil
}

// EncodeHostHello builds the host's announcement of required capabilities.
func EncodeHostHello(version uint16, required *Set) ([]byte, error) {
	enc := codec.NewEncoder(hostHelloHeaderLen)
	enc.PushU16(version)
	if err := pushAnnouncements(enc, required); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

// EncodeDeviceHello builds the device's reply: its id followed by the
// offered capabilities in registration order.
func EncodeDeviceHello(deviceID uint32, offered *Set) ([]byte, error) {
	enc := codec.NewEncoder(deviceHelloHeaderLen)
	enc.PushU32(deviceID)
	if err := pushAnnouncements(enc, offered); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

// DeviceHello is a decoded DeviceHello payload.
type DeviceHello struct {
	DeviceID     uint32
	Capabilities []Announcement
}

// DecodeDeviceHello parses a DeviceHello payload without interpreting the
// capability contents.
func DecodeDeviceHello(payload []byte) (DeviceHello, error) {
	if len(payload) < deviceHelloHeaderLen {
		return DeviceHello{}, ErrShortHello
	}
	dec := codec.NewDecoder(payload)
	id, _ := dec.PopU32()
	count, _ := dec.PopU8()
	hello := DeviceHello{DeviceID: id, Capabilities: make([]Announcement, 0, count)}
	for i := 0; i < int(count); i++ {
		a, err := popAnnouncement(dec)
		if err != nil {
			return DeviceHello{}, fmt.Errorf("entry %d: %w", i, err)
		}
		hello.Capabilities = append(hello.Capabilities, a)
	}
	return hello, nil
}

// Apply deserializes every announced capability known to set. Unknown ids
// are skipped; the host side treats extra device capabilities as optional.
func (h DeviceHello) Apply(set *Set) error {
	for _, a := range h.Capabilities {
		c, ok := set.Find(a.ID)
		if !ok {
			continue
		}
		if err := c.Deserialize(codec.NewDecoder(a.Payload)); err != nil {
			return fmt.Errorf("%w: id=0x%04x: %v", ErrCapabilityDecode, a.ID, err)
		}
	}
	return nil
}

// IDString renders the device id the way hosts display it.
func (h DeviceHello) IDString() string {
	return fmt.Sprintf("%08x", h.DeviceID)
}

// HostHello is a decoded HostHello payload.
type HostHello struct {
	Version      uint16
	Capabilities []Announcement
}

// DecodeHostHello parses a HostHello payload without consulting any
// registered capabilities. Hosts and tooling use it to inspect traffic;
// devices go through Negotiate.
func DecodeHostHello(payload []byte) (HostHello, error) {
	if len(payload) < hostHelloHeaderLen {
		return HostHello{}, ErrShortHello
	}
	dec := codec.NewDecoder(payload)
	version, _ := dec.PopU16()
	count, _ := dec.PopU8()
	hello := HostHello{Version: version, Capabilities: make([]Announcement, 0, count)}
	for i := 0; i < int(count); i++ {
		a, err := popAnnouncement(dec)
		if err != nil {
			return HostHello{}, fmt.Errorf("entry %d: %w", i, err)
		}
		hello.Capabilities = append(hello.Capabilities, a)
	}
	return hello, nil
}
