package session

import (
	"errors"

	"github.com/danmuck/fraiselink/internal/identity"
	"github.com/danmuck/fraiselink/internal/protocol"
	"github.com/danmuck/fraiselink/internal/protocol/capability"
	"github.com/danmuck/fraiselink/internal/protocol/codec"
	"github.com/danmuck/fraiselink/internal/protocol/dispatch"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected = errors.New("session: not connected")
	ErrNilTransport = errors.New("session: nil transport")
)

// Stage is the handshake progress of a session.
type Stage uint8

const (
	StageNone Stage = iota
	// StageHostHelloReceived holds between a successful negotiation and the
	// DeviceHello reaching the transport.
	StageHostHelloReceived
	StageDeviceHelloSent
	StageCompleted
)

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageHostHelloReceived:
		return "host_hello_received"
	case StageDeviceHelloSent:
		return "device_hello_sent"
	case StageCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Transport delivers one packet to the peer.
type Transport interface {
	Send(pkt protocol.Packet) error
}

// Observer receives session events. Implementations must not block.
type Observer interface {
	PacketReceived(pkt protocol.Packet)
	PacketSent(pkt protocol.Packet)
	StageChanged(stage Stage)
	Dispatched(kind protocol.PacketType, code uint16, delivered bool)
	Disconnected()
}

type nopObserver struct{}

func (nopObserver) PacketReceived(protocol.Packet)               {}
func (nopObserver) PacketSent(protocol.Packet)                   {}
func (nopObserver) StageChanged(Stage)                           {}
func (nopObserver) Dispatched(protocol.PacketType, uint16, bool) {}
func (nopObserver) Disconnected()                                {}

// Option configures a Session at construction.
type Option func(*Session)

func WithConfig(cfg Config) Option {
	return func(s *Session) { s.cfg = cfg }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.log = logger }
}

func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.obs = o
		}
	}
}

// WithResetHook sets the platform reset invoked on disconnect when
// Config.ResetOnDisconnect is enabled.
func WithResetHook(fn func()) Option {
	return func(s *Session) { s.reset = fn }
}

// Session is the device end of one link. It is not safe for concurrent use;
// a single transport loop drives Receive and Unavailable.
type Session struct {
	transport Transport
	id        identity.Provider
	cfg       Config
	log       zerolog.Logger
	obs       Observer
	reset     func()

	stage        Stage
	required     *capability.Set
	offered      *capability.Set
	data         *dispatch.Registry
	errs         *dispatch.Registry
	onDisconnect func()
}

// New builds a session bound to t, reporting the device id from id.
func New(t Transport, id identity.Provider, opts ...Option) *Session {
	s := &Session{
		transport: t,
		id:        id,
		cfg:       DefaultConfig(),
		log:       log.Logger,
		obs:       nopObserver{},
		stage:     StageNone,
		required:  capability.NewRequiredSet(),
		offered:   capability.NewOfferedSet(),
		data:      dispatch.NewRegistry(),
		errs:      dispatch.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == nil {
		s.id = identity.Fixed(0)
	}
	return s
}

func (s *Session) Stage() Stage {
	return s.stage
}

func (s *Session) IsConnected() bool {
	return s.stage == StageCompleted
}

func (s *Session) Config() Config {
	return s.cfg
}

// Receive routes one inbound packet. Error packets reach the error table in
// every stage; everything else goes through the handshake until connected.
func (s *Session) Receive(pkt protocol.Packet) {
	s.obs.PacketReceived(pkt)

	if pkt.Type == protocol.TypeError {
		s.route(s.errs, pkt)
		return
	}

	if !s.IsConnected() {
		if !s.processHandshake(pkt) {
			s.replyError(protocol.ErrCodeHandshakeNotCompleted)
		}
		return
	}

	switch pkt.Type {
	case protocol.TypeData:
		s.route(s.data, pkt)
	default:
		s.log.Debug().Str("type", pkt.Type.String()).Msg("session.Session receive unexpected packet")
		s.replyError(protocol.ErrCodeUnknownPacketType)
	}
}

func (s *Session) route(table *dispatch.Registry, pkt protocol.Packet) {
	code, body, err := protocol.SplitCoded(pkt.Payload)
	if err != nil {
		s.log.Debug().Str("type", pkt.Type.String()).Int("len", len(pkt.Payload)).Msg("session.Session drop short packet")
		return
	}
	delivered := table.Dispatch(code, body)
	s.obs.Dispatched(pkt.Type, code, delivered)
	if !delivered {
		s.log.Debug().Str("type", pkt.Type.String()).Uint16("code", code).Msg("session.Session drop unhandled code")
	}
}

// Unavailable resets the session after the transport reports link loss.
func (s *Session) Unavailable() {
	s.setStage(StageNone)
	if s.cfg.ResetOnDisconnect && s.reset != nil {
		s.log.Info().Msg("session.Session reset on disconnect")
		s.reset()
	}
	s.obs.Disconnected()
	if s.onDisconnect != nil {
		s.onDisconnect()
	}
}

// OnDisconnect replaces the disconnect hook.
func (s *Session) OnDisconnect(fn func()) {
	s.onDisconnect = fn
}

// SendData sends a Data packet. It refuses before the handshake completes.
func (s *Session) SendData(code uint16, payload []byte) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return s.send(protocol.Packet{Type: protocol.TypeData, Payload: protocol.JoinCoded(code, payload)})
}

func (s *Session) SendDataValue(code uint16, v codec.Serializable) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return s.SendData(code, codec.Marshal(v))
}

// SendError sends an Error packet in any stage.
func (s *Session) SendError(code uint16, payload []byte) error {
	return s.send(protocol.Packet{Type: protocol.TypeError, Payload: protocol.JoinCoded(code, payload)})
}

func (s *Session) SendErrorValue(code uint16, v codec.Serializable) error {
	return s.SendError(code, codec.Marshal(v))
}

func (s *Session) replyError(code protocol.ErrorCode) {
	if err := s.SendError(uint16(code), nil); err != nil {
		s.log.Warn().Str("code", code.String()).Err(err).Msg("session.Session reply error failed")
	}
}

func (s *Session) send(pkt protocol.Packet) error {
	if s.transport == nil {
		return ErrNilTransport
	}
	if err := s.transport.Send(pkt); err != nil {
		return err
	}
	s.obs.PacketSent(pkt)
	return nil
}

func (s *Session) SubscribeData(code uint16, h dispatch.Handler) {
	s.data.Subscribe(code, h)
}

func (s *Session) UnsubscribeData(code uint16) {
	s.data.Unsubscribe(code)
}

func (s *Session) SubscribeError(code uint16, h dispatch.Handler) {
	s.errs.Subscribe(code, h)
}

func (s *Session) UnsubscribeError(code uint16) {
	s.errs.Unsubscribe(code)
}

// RegisterRequired adds a capability the host must announce.
func (s *Session) RegisterRequired(c capability.Capability) (capability.Handle, error) {
	return s.required.Add(c)
}

// RegisterOffered adds a capability advertised in DeviceHello.
func (s *Session) RegisterOffered(c capability.Capability) (capability.Handle, error) {
	return s.offered.Add(c)
}

// AddCapability registers a required/offered pair. Either side may be nil.
func (s *Session) AddCapability(required, offered capability.Capability) (capability.Handle, capability.Handle, error) {
	rh, oh := capability.Handle(-1), capability.Handle(-1)
	if required != nil {
		h, err := s.required.Add(required)
		if err != nil {
			return rh, oh, err
		}
		rh = h
	}
	if offered != nil {
		h, err := s.offered.Add(offered)
		if err != nil {
			return rh, oh, err
		}
		oh = h
	}
	return rh, oh, nil
}

func (s *Session) Required(h capability.Handle) capability.Capability {
	return s.required.Get(h)
}

func (s *Session) Offered(h capability.Handle) capability.Capability {
	return s.offered.Get(h)
}
