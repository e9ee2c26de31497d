// Package transporttest provides an in-memory packet transport for tests.
package transporttest

import (
	"errors"
	"sync"

	"github.com/danmuck/fraiselink/internal/protocol"
)

var ErrSendRefused = errors.New("transporttest: send refused")

// Recorder captures every packet handed to Send.
type Recorder struct {
	mu      sync.Mutex
	packets []protocol.Packet
	fail    func(protocol.Packet) bool
}

func New() *Recorder {
	return &Recorder{}
}

// FailWhen makes Send refuse packets matching fn. Refused packets are not
// recorded.
func (r *Recorder) FailWhen(fn func(protocol.Packet) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fn
}

func (r *Recorder) Send(pkt protocol.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil && r.fail(pkt) {
		return ErrSendRefused
	}
	payload := make([]byte, len(pkt.Payload))
	copy(payload, pkt.Payload)
	r.packets = append(r.packets, protocol.Packet{Type: pkt.Type, Payload: payload})
	return nil
}

// Packets returns a snapshot of recorded packets in send order.
func (r *Recorder) Packets() []protocol.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Packet, len(r.packets))
	copy(out, r.packets)
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.packets)
}

// Last returns the most recent packet.
func (r *Recorder) Last() (protocol.Packet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.packets) == 0 {
		return protocol.Packet{}, false
	}
	return r.packets[len(r.packets)-1], true
}

// Reset drops recorded packets.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = nil
}

// Errors returns the codes of recorded Error packets in order.
func (r *Recorder) Errors() []protocol.ErrorCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.ErrorCode
	for _, p := range r.packets {
		if p.Type != protocol.TypeError || len(p.Payload) < protocol.CodeHeaderLen {
			continue
		}
		code, _, _ := protocol.SplitCoded(p.Payload)
		out = append(out, protocol.ErrorCode(code))
	}
	return out
}
