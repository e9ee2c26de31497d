package observability

import (
	"sync/atomic"
	"time"

	"github.com/danmuck/fraiselink/internal/protocol"
	"github.com/danmuck/fraiselink/internal/protocol/host"
	"github.com/danmuck/fraiselink/internal/protocol/session"
)

var _ session.Observer = (*Link)(nil)

// LinkStatus is the JSON view of one link.
type LinkStatus struct {
	Link        string    `json:"link"`
	Role        string    `json:"role"`
	State       string    `json:"state"`
	Connected   bool      `json:"connected"`
	PacketsIn   uint64    `json:"packets_in"`
	PacketsOut  uint64    `json:"packets_out"`
	Dispatched  uint64    `json:"dispatched"`
	Unhandled   uint64    `json:"unhandled"`
	Disconnects uint64    `json:"disconnects"`
	Since       time.Time `json:"since"`
}

// Link tracks one session or host device. Updates come from the link's
// read loop; readers only touch atomics.
type Link struct {
	name  string
	role  string
	since time.Time

	state       atomic.Value
	connected   atomic.Bool
	packetsIn   atomic.Uint64
	packetsOut  atomic.Uint64
	dispatched  atomic.Uint64
	unhandled   atomic.Uint64
	disconnects atomic.Uint64
}

func newLink(name, role, state string) *Link {
	RegisterMetrics()
	l := &Link{name: name, role: role, since: time.Now()}
	l.state.Store(state)
	SetConnected(name, false)
	return l
}

// NewSessionLink returns an observer for a device session.
func NewSessionLink(name string) *Link {
	return newLink(name, "device", session.StageNone.String())
}

// TrackHost follows the status of a host device.
func TrackHost(name string, d *host.Device) (*Link, error) {
	l := newLink(name, "host", d.Status().String())
	err := d.OnStatusChange(func(s host.Status) {
		l.state.Store(s.String())
		l.setConnected(s == host.StatusConnected)
		if s == host.StatusNotConnected {
			l.disconnects.Add(1)
			RecordDisconnect(l.name)
		}
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Link) Name() string {
	return l.name
}

func (l *Link) PacketReceived(pkt protocol.Packet) {
	l.packetsIn.Add(1)
	RecordPacket(l.name, "in", pkt.Type.String())
}

func (l *Link) PacketSent(pkt protocol.Packet) {
	l.packetsOut.Add(1)
	RecordPacket(l.name, "out", pkt.Type.String())
}

func (l *Link) StageChanged(stage session.Stage) {
	l.state.Store(stage.String())
	l.setConnected(stage == session.StageCompleted)
}

func (l *Link) Dispatched(kind protocol.PacketType, _ uint16, delivered bool) {
	if delivered {
		l.dispatched.Add(1)
	} else {
		l.unhandled.Add(1)
	}
	RecordDispatch(l.name, kind.String(), delivered)
}

func (l *Link) Disconnected() {
	l.disconnects.Add(1)
	RecordDisconnect(l.name)
}

func (l *Link) setConnected(v bool) {
	l.connected.Store(v)
	SetConnected(l.name, v)
}

func (l *Link) Snapshot() LinkStatus {
	state, _ := l.state.Load().(string)
	return LinkStatus{
		Link:        l.name,
		Role:        l.role,
		State:       state,
		Connected:   l.connected.Load(),
		PacketsIn:   l.packetsIn.Load(),
		PacketsOut:  l.packetsOut.Load(),
		Dispatched:  l.dispatched.Load(),
		Unhandled:   l.unhandled.Load(),
		Disconnects: l.disconnects.Load(),
		Since:       l.since,
	}
}
