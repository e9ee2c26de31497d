package host

import (
	"errors"
	"fmt"
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"github.com/danmuck/fraiselink/internal/identity"
	"github.com/danmuck/fraiselink/internal/protocol"
	"github.com/danmuck/fraiselink/internal/protocol/capability"
	"github.com/danmuck/fraiselink/internal/protocol/codec"
	"github.com/danmuck/fraiselink/internal/protocol/dispatch"
	"github.com/danmuck/fraiselink/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrDisposed         = errors.New("host: device disposed")
	ErrNotConnected     = errors.New("host: device not connected")
	ErrAlreadyConnected = errors.New("host: capabilities are fixed once connecting")
	ErrDeviceRejected   = errors.New("host: device rejected the session")
	ErrBadDeviceHello   = errors.New("host: invalid device hello")
	ErrNilTransport     = errors.New("host: nil transport")
)

const (
	topicStatus  = "host:status"
	topicDispose = "host:dispose"
)

// Status is the connection state seen by the host.
type Status uint8

const (
	StatusNotConnected Status = iota
	StatusConnecting
	StatusConnected
	StatusDisposed
)

func (s Status) String() string {
	switch s {
	case StatusNotConnected:
		return "not_connected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Transport delivers one packet to the device.
type Transport interface {
	Send(pkt protocol.Packet) error
}

type Option func(*Device)

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Device) { d.log = logger }
}

// WithProtocolVersion overrides the version announced in HostHello.
func WithProtocolVersion(v uint16) Option {
	return func(d *Device) { d.version = v }
}

// Device is the host view of one attached device.
type Device struct {
	mu        sync.Mutex
	transport Transport
	version   uint16
	log       zerolog.Logger
	bus       evbus.Bus

	// pubMu orders status events. Only one goroutine publishes at a time and
	// it keeps going until the last published status matches the current one.
	pubMu      sync.Mutex
	publishing bool
	published  Status

	status   Status
	deviceID uint32
	hasID    bool
	lastErr  error

	hostCaps   *capability.Set
	deviceCaps *capability.Set
	data       *dispatch.Registry
	errs       *dispatch.Registry
}

func New(t Transport, opts ...Option) *Device {
	d := &Device{
		transport:  t,
		version:    session.DefaultProtocolVersion,
		log:        log.Logger,
		bus:        evbus.New(),
		status:     StatusNotConnected,
		published:  StatusNotConnected,
		hostCaps:   capability.NewRequiredSet(),
		deviceCaps: capability.NewRequiredSet(),
		data:       dispatch.NewRegistry(),
		errs:       dispatch.NewRegistry(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// DeviceID returns the id announced in the last DeviceHello.
func (d *Device) DeviceID() (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceID, d.hasID
}

// Err returns the reason the last session ended, if the device reported one.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// AddCapability pairs the capability the host announces with the one the
// device is expected to offer. Either side may be nil.
func (d *Device) AddCapability(hostSide, deviceSide capability.Capability) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.status {
	case StatusDisposed:
		return ErrDisposed
	case StatusNotConnected:
	default:
		return ErrAlreadyConnected
	}
	if hostSide != nil {
		if _, ok := d.hostCaps.Find(hostSide.ID()); ok {
			return fmt.Errorf("%w: host id=0x%04x", capability.ErrDuplicateCapability, hostSide.ID())
		}
	}
	if deviceSide != nil {
		if _, ok := d.deviceCaps.Find(deviceSide.ID()); ok {
			return fmt.Errorf("%w: device id=0x%04x", capability.ErrDuplicateCapability, deviceSide.ID())
		}
	}
	if hostSide != nil {
		if _, err := d.hostCaps.Add(hostSide); err != nil {
			return err
		}
	}
	if deviceSide != nil {
		if _, err := d.deviceCaps.Add(deviceSide); err != nil {
			return err
		}
	}
	return nil
}

// OnStatusChange registers fn for status transitions, delivered in order.
// Handlers run synchronously on the publishing goroutine. They may call
// Connect or Disconnect but must not register handlers or call Dispose.
func (d *Device) OnStatusChange(fn func(Status)) error {
	return d.bus.Subscribe(topicStatus, fn)
}

// OnDispose registers fn to run once the device is disposed.
func (d *Device) OnDispose(fn func()) error {
	return d.bus.SubscribeOnce(topicDispose, fn)
}

func (d *Device) SubscribeData(code uint16, h dispatch.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data.Subscribe(code, h)
}

func (d *Device) UnsubscribeData(code uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data.Unsubscribe(code)
}

func (d *Device) SubscribeError(code uint16, h dispatch.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs.Subscribe(code, h)
}

func (d *Device) UnsubscribeError(code uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs.Unsubscribe(code)
}

// Connect announces the host capabilities and waits for DeviceHello.
func (d *Device) Connect() error {
	d.mu.Lock()
	if d.status == StatusDisposed {
		d.mu.Unlock()
		return ErrDisposed
	}
	payload, err := capability.EncodeHostHello(d.version, d.hostCaps)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if err := d.sendLocked(protocol.Packet{Type: protocol.TypeHostHello, Payload: payload}); err != nil {
		d.mu.Unlock()
		return err
	}
	d.lastErr = nil
	count := d.hostCaps.Len()
	changed := d.setStatusLocked(StatusConnecting)
	d.mu.Unlock()
	d.log.Debug().Uint16("version", d.version).Int("capabilities", count).Msg("host.Device connect hello sent")
	d.publish(changed)
	return nil
}

// Receive handles one packet from the device.
func (d *Device) Receive(pkt protocol.Packet) {
	if pkt.Type == protocol.TypeError {
		d.receiveError(pkt)
		return
	}

	d.mu.Lock()
	switch d.status {
	case StatusDisposed:
		d.mu.Unlock()
	case StatusNotConnected:
		d.mu.Unlock()
		d.log.Debug().Str("type", pkt.Type.String()).Msg("host.Device receive ignored while not connected")
	case StatusConnecting:
		if pkt.Type != protocol.TypeDeviceHello {
			d.replyLocked(protocol.ErrCodeHandshakeNotCompleted)
			d.mu.Unlock()
			return
		}
		next, err := d.acceptHelloLocked(pkt.Payload)
		changed := d.setStatusLocked(next)
		d.mu.Unlock()
		if err != nil {
			d.log.Warn().Err(err).Msg("host.Device device hello rejected")
		} else {
			id, _ := d.DeviceID()
			d.log.Info().Str("device_id", identity.Format(id)).Msg("host.Device connected")
		}
		d.publish(changed)
	case StatusConnected:
		if pkt.Type != protocol.TypeData {
			d.replyLocked(protocol.ErrCodeUnknownPacketType)
			d.mu.Unlock()
			return
		}
		code, body, err := protocol.SplitCoded(pkt.Payload)
		if err != nil {
			d.replyLocked(protocol.ErrCodeMalformedPacket)
			d.mu.Unlock()
			return
		}
		entry, ok := d.data.Find(code)
		d.mu.Unlock()
		if ok {
			entry.Handler(body)
		}
	default:
		d.mu.Unlock()
	}
}

func (d *Device) receiveError(pkt protocol.Packet) {
	code, body, err := protocol.SplitCoded(pkt.Payload)
	if err != nil {
		return
	}
	if protocol.ErrorCode(code).IsReserved() {
		d.mu.Lock()
		if d.status == StatusDisposed {
			d.mu.Unlock()
			return
		}
		d.lastErr = fmt.Errorf("%w: %s", ErrDeviceRejected, protocol.ErrorCode(code))
		changed := d.setStatusLocked(StatusNotConnected)
		d.mu.Unlock()
		d.log.Warn().Str("code", protocol.ErrorCode(code).String()).Msg("host.Device device reported protocol error")
		d.publish(changed)
		return
	}
	d.mu.Lock()
	entry, ok := d.errs.Find(code)
	d.mu.Unlock()
	if ok {
		entry.Handler(body)
	}
}

func (d *Device) acceptHelloLocked(payload []byte) (Status, error) {
	hello, err := capability.DecodeDeviceHello(payload)
	if err == nil {
		err = hello.Apply(d.deviceCaps)
	}
	if err != nil {
		d.replyLocked(protocol.ErrCodeMalformedPacket)
		d.lastErr = fmt.Errorf("%w: %v", ErrBadDeviceHello, err)
		return StatusNotConnected, d.lastErr
	}
	d.deviceID = hello.DeviceID
	d.hasID = true
	if err := d.sendLocked(protocol.Packet{Type: protocol.TypeHostAck}); err != nil {
		d.lastErr = err
		return StatusNotConnected, err
	}
	return StatusConnected, nil
}

// Unavailable marks the link as lost.
func (d *Device) Unavailable() {
	d.mu.Lock()
	if d.status == StatusDisposed {
		d.mu.Unlock()
		return
	}
	changed := d.setStatusLocked(StatusNotConnected)
	d.mu.Unlock()
	d.publish(changed)
}

// Disconnect ends the session without disposing the device.
func (d *Device) Disconnect() error {
	d.mu.Lock()
	if d.status == StatusDisposed {
		d.mu.Unlock()
		return ErrDisposed
	}
	changed := d.setStatusLocked(StatusNotConnected)
	d.mu.Unlock()
	d.publish(changed)
	return nil
}

// Dispose permanently retires the device.
func (d *Device) Dispose() {
	d.mu.Lock()
	changed := d.setStatusLocked(StatusDisposed)
	d.mu.Unlock()
	if !changed {
		return
	}
	d.publish(true)
	d.bus.Publish(topicDispose)
}

func (d *Device) SendData(code uint16, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.status {
	case StatusDisposed:
		return ErrDisposed
	case StatusConnected:
	default:
		return ErrNotConnected
	}
	return d.sendLocked(protocol.Packet{Type: protocol.TypeData, Payload: protocol.JoinCoded(code, payload)})
}

func (d *Device) SendDataValue(code uint16, v codec.Serializable) error {
	return d.SendData(code, codec.Marshal(v))
}

func (d *Device) SendError(code uint16, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusDisposed {
		return ErrDisposed
	}
	return d.sendLocked(protocol.Packet{Type: protocol.TypeError, Payload: protocol.JoinCoded(code, payload)})
}

func (d *Device) replyLocked(code protocol.ErrorCode) {
	err := d.sendLocked(protocol.Packet{Type: protocol.TypeError, Payload: protocol.JoinCoded(uint16(code), nil)})
	if err != nil {
		d.log.Warn().Str("code", code.String()).Err(err).Msg("host.Device reply error failed")
	}
}

func (d *Device) sendLocked(pkt protocol.Packet) error {
	if d.transport == nil {
		return ErrNilTransport
	}
	return d.transport.Send(pkt)
}

func (d *Device) setStatusLocked(s Status) bool {
	if d.status == s {
		return false
	}
	d.status = s
	return true
}

// publish emits the current status. Concurrent or nested callers hand off to
// the active publisher, so subscribers see changes in order and always end on
// the final status. Intermediate states may be coalesced.
func (d *Device) publish(changed bool) {
	if !changed {
		return
	}
	d.pubMu.Lock()
	if d.publishing {
		d.pubMu.Unlock()
		return
	}
	d.publishing = true
	for {
		cur := d.Status()
		if cur == d.published {
			d.publishing = false
			d.pubMu.Unlock()
			return
		}
		d.published = cur
		d.pubMu.Unlock()
		d.bus.Publish(topicStatus, cur)
		d.pubMu.Lock()
	}
}
