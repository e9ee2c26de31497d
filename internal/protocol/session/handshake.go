package session

import (
	"errors"

	"github.com/danmuck/fraiselink/internal/identity"
	"github.com/danmuck/fraiselink/internal/protocol"
	"github.com/danmuck/fraiselink/internal/protocol/capability"
)

// processHandshake advances the handshake for one non-Error packet received
// while not connected. It reports false when the router must reply with
// HandshakeNotCompleted.
func (s *Session) processHandshake(pkt protocol.Packet) bool {
	switch s.stage {
	case StageNone:
		if pkt.Type != protocol.TypeHostHello {
			s.log.Debug().Str("type", pkt.Type.String()).Msg("session.Session handshake ignore before hello")
			return true
		}
		return s.acceptHostHello(pkt.Payload)
	case StageDeviceHelloSent:
		if pkt.Type != protocol.TypeHostAck {
			s.log.Debug().Str("type", pkt.Type.String()).Msg("session.Session handshake expected ack")
			s.replyError(protocol.ErrCodeHandshakeNotCompleted)
			return false
		}
		s.setStage(StageCompleted)
		s.log.Info().Str("device_id", identity.Format(s.id.DeviceID())).Msg("session.Session connected")
		return true
	default:
		return true
	}
}

func (s *Session) acceptHostHello(payload []byte) bool {
	if err := capability.Negotiate(payload, s.cfg.ProtocolVersion, s.required); err != nil {
		code := protocol.ErrCodeMalformedPacket
		var nerr *capability.NegotiationError
		if errors.As(err, &nerr) {
			code = nerr.Code
		}
		s.log.Warn().Str("code", code.String()).Err(err).Msg("session.Session host hello rejected")
		s.replyError(code)
		return false
	}
	s.setStage(StageHostHelloReceived)

	hello, err := capability.EncodeDeviceHello(s.id.DeviceID(), s.offered)
	if err != nil {
		s.log.Error().Err(err).Msg("session.Session device hello build failed")
		s.replyError(protocol.ErrCodeInternalError)
		s.setStage(StageNone)
		return false
	}
	if err := s.send(protocol.Packet{Type: protocol.TypeDeviceHello, Payload: hello}); err != nil {
		s.log.Warn().Err(err).Msg("session.Session device hello send failed")
		s.setStage(StageNone)
		return true
	}
	// Unavailable during the send has already reset the handshake.
	if s.stage == StageHostHelloReceived {
		s.setStage(StageDeviceHelloSent)
	}
	return true
}

func (s *Session) setStage(stage Stage) {
	if s.stage == stage {
		return
	}
	s.log.Debug().Str("from", s.stage.String()).Str("to", stage.String()).Msg("session.Session stage")
	s.stage = stage
	s.obs.StageChanged(stage)
}
