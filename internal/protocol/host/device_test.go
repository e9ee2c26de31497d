package host

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/danmuck/fraiselink/internal/protocol"
	"github.com/danmuck/fraiselink/internal/protocol/capability"
	"github.com/danmuck/fraiselink/internal/protocol/codec"
	"github.com/danmuck/fraiselink/internal/protocol/session"
	"github.com/danmuck/fraiselink/internal/testutil/testlog"
	"github.com/danmuck/fraiselink/internal/testutil/transporttest"
)

func deviceHello(t *testing.T, id uint32, caps ...capability.Capability) protocol.Packet {
	t.Helper()
	set := capability.NewOfferedSet()
	for _, c := range caps {
		if _, err := set.Add(c); err != nil {
			t.Fatalf("add offered: %v", err)
		}
	}
	payload, err := capability.EncodeDeviceHello(id, set)
	if err != nil {
		t.Fatalf("encode device hello: %v", err)
	}
	return protocol.Packet{Type: protocol.TypeDeviceHello, Payload: payload}
}

func connectedDevice(t *testing.T) (*Device, *transporttest.Recorder) {
	t.Helper()
	rec := transporttest.New()
	d := New(rec)
	if err := d.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	d.Receive(deviceHello(t, 1))
	if d.Status() != StatusConnected {
		t.Fatalf("expected connected, got %s", d.Status())
	}
	rec.Reset()
	return d, rec
}

func TestConnectSendsHostHello(t *testing.T) {
	testlog.Start(t)

	rec := transporttest.New()
	d := New(rec)
	if err := d.AddCapability(capability.NewStatic(0x0010, 0, []byte{1, 2}), nil); err != nil {
		t.Fatalf("add capability: %v", err)
	}
	var statuses []Status
	if err := d.OnStatusChange(func(s Status) { statuses = append(statuses, s) }); err != nil {
		t.Fatalf("subscribe status: %v", err)
	}

	if err := d.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	pkt, ok := rec.Last()
	if !ok || pkt.Type != protocol.TypeHostHello {
		t.Fatalf("expected host hello, got %+v", pkt)
	}
	want := []byte{0x01, 0x9a, 0x01, 0x00, 0x10, 0x00, 0x02, 1, 2}
	if !bytes.Equal(pkt.Payload, want) {
		t.Fatalf("unexpected host hello payload: %x", pkt.Payload)
	}
	if d.Status() != StatusConnecting {
		t.Fatalf("expected connecting, got %s", d.Status())
	}
	if len(statuses) != 1 || statuses[0] != StatusConnecting {
		t.Fatalf("unexpected status events: %v", statuses)
	}
}

func TestDeviceHelloCompletesConnection(t *testing.T) {
	testlog.Start(t)

	rec := transporttest.New()
	d := New(rec)
	offered := capability.NewStatic(0x0020, 1, nil)
	if err := d.AddCapability(nil, offered); err != nil {
		t.Fatalf("add capability: %v", err)
	}
	if err := d.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rec.Reset()

	d.Receive(deviceHello(t, 0x1234ABCD,
		capability.NewStatic(0x0020, 0, []byte{5}),
		capability.NewStatic(0x0099, 0, []byte{6}),
	))

	if d.Status() != StatusConnected {
		t.Fatalf("expected connected, got %s (err=%v)", d.Status(), d.Err())
	}
	id, ok := d.DeviceID()
	if !ok || id != 0x1234ABCD {
		t.Fatalf("unexpected device id %08x ok=%v", id, ok)
	}
	if !bytes.Equal(offered.Payload(), []byte{5}) {
		t.Fatalf("device capability not applied: %v", offered.Payload())
	}
	pkt, _ := rec.Last()
	if pkt.Type != protocol.TypeHostAck || len(pkt.Payload) != 0 {
		t.Fatalf("expected empty host ack, got %+v", pkt)
	}
}

func TestMalformedDeviceHello(t *testing.T) {
	testlog.Start(t)

	rec := transporttest.New()
	d := New(rec)
	d.Connect()
	rec.Reset()

	d.Receive(protocol.Packet{Type: protocol.TypeDeviceHello, Payload: []byte{0, 0, 0}})
	if d.Status() != StatusNotConnected {
		t.Fatalf("expected not connected, got %s", d.Status())
	}
	if !errors.Is(d.Err(), ErrBadDeviceHello) {
		t.Fatalf("expected ErrBadDeviceHello, got %v", d.Err())
	}
	codes := rec.Errors()
	if len(codes) != 1 || codes[0] != protocol.ErrCodeMalformedPacket {
		t.Fatalf("unexpected replies: %v", codes)
	}
}

func TestConnectingRejectsOtherPackets(t *testing.T) {
	testlog.Start(t)

	rec := transporttest.New()
	d := New(rec)
	d.Connect()
	rec.Reset()

	d.Receive(protocol.Packet{Type: protocol.TypeData, Payload: []byte{0, 1}})
	codes := rec.Errors()
	if len(codes) != 1 || codes[0] != protocol.ErrCodeHandshakeNotCompleted {
		t.Fatalf("unexpected replies: %v", codes)
	}
	if d.Status() != StatusConnecting {
		t.Fatalf("expected connecting, got %s", d.Status())
	}
}

func TestReservedErrorEndsSession(t *testing.T) {
	testlog.Start(t)

	d, _ := connectedDevice(t)
	called := false
	d.SubscribeError(uint16(protocol.ErrCodeMissingCapabilities), func([]byte) { called = true })

	d.Receive(protocol.Packet{Type: protocol.TypeError, Payload: protocol.JoinCoded(uint16(protocol.ErrCodeMissingCapabilities), nil)})

	if d.Status() != StatusNotConnected {
		t.Fatalf("expected not connected, got %s", d.Status())
	}
	if !errors.Is(d.Err(), ErrDeviceRejected) {
		t.Fatalf("expected ErrDeviceRejected, got %v", d.Err())
	}
	if called {
		t.Fatalf("reserved codes must not reach application handlers")
	}
}

func TestApplicationErrorDispatch(t *testing.T) {
	testlog.Start(t)

	d, _ := connectedDevice(t)
	var body []byte
	d.SubscribeError(0x0300, func(b []byte) { body = b })
	d.Receive(protocol.Packet{Type: protocol.TypeError, Payload: protocol.JoinCoded(0x0300, []byte("boom"))})
	if string(body) != "boom" {
		t.Fatalf("unexpected error body: %q", body)
	}
	if d.Status() != StatusConnected {
		t.Fatalf("application errors must not end the session, got %s", d.Status())
	}
}

func TestConnectedRouting(t *testing.T) {
	testlog.Start(t)

	d, rec := connectedDevice(t)
	var got []byte
	d.SubscribeData(0x0042, func(b []byte) { got = b })

	d.Receive(protocol.Packet{Type: protocol.TypeData, Payload: protocol.JoinCoded(0x0042, []byte{1, 2, 3})})
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("unexpected data body: %v", got)
	}

	d.Receive(protocol.Packet{Type: protocol.TypeData, Payload: []byte{0x00}})
	d.Receive(protocol.Packet{Type: protocol.TypeDeviceHello})
	codes := rec.Errors()
	if len(codes) != 2 || codes[0] != protocol.ErrCodeMalformedPacket || codes[1] != protocol.ErrCodeUnknownPacketType {
		t.Fatalf("unexpected replies: %v", codes)
	}

	d.UnsubscribeData(0x0042)
	got = nil
	d.Receive(protocol.Packet{Type: protocol.TypeData, Payload: protocol.JoinCoded(0x0042, []byte{9})})
	if got != nil {
		t.Fatalf("unsubscribed handler invoked")
	}
}

func TestAddCapabilityRules(t *testing.T) {
	testlog.Start(t)

	d := New(transporttest.New())
	if err := d.AddCapability(capability.NewStatic(1, 0, nil), capability.NewStatic(2, 0, nil)); err != nil {
		t.Fatalf("add capability: %v", err)
	}
	if err := d.AddCapability(capability.NewStatic(1, 0, nil), nil); !errors.Is(err, capability.ErrDuplicateCapability) {
		t.Fatalf("expected duplicate host capability error, got %v", err)
	}
	if err := d.AddCapability(capability.NewStatic(3, 0, nil), capability.NewStatic(2, 0, nil)); !errors.Is(err, capability.ErrDuplicateCapability) {
		t.Fatalf("expected duplicate device capability error, got %v", err)
	}
	d.Connect()
	if err := d.AddCapability(capability.NewStatic(3, 0, nil), nil); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestSendRequiresConnection(t *testing.T) {
	testlog.Start(t)

	rec := transporttest.New()
	d := New(rec)
	if err := d.SendData(1, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := d.SendError(0x0301, []byte{1}); err != nil {
		t.Fatalf("send error: %v", err)
	}
	if rec.Len() != 1 {
		t.Fatalf("expected only the error packet, got %d", rec.Len())
	}
}

func TestDisposeIsTerminal(t *testing.T) {
	testlog.Start(t)

	d, _ := connectedDevice(t)
	disposed := 0
	if err := d.OnDispose(func() { disposed++ }); err != nil {
		t.Fatalf("subscribe dispose: %v", err)
	}
	var last Status
	d.OnStatusChange(func(s Status) { last = s })

	d.Dispose()
	d.Dispose()

	if disposed != 1 || last != StatusDisposed {
		t.Fatalf("expected one dispose event, got disposed=%d last=%s", disposed, last)
	}
	if err := d.Connect(); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
	if err := d.Disconnect(); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
	if err := d.SendError(1, nil); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
	d.Unavailable()
	if d.Status() != StatusDisposed {
		t.Fatalf("unavailable must not revive a disposed device, got %s", d.Status())
	}
}

func TestUnavailableAndDisconnect(t *testing.T) {
	testlog.Start(t)

	d, _ := connectedDevice(t)
	d.Unavailable()
	if d.Status() != StatusNotConnected {
		t.Fatalf("expected not connected, got %s", d.Status())
	}
	if err := d.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
}

func TestStatusEventsEndOnFinalStatus(t *testing.T) {
	testlog.Start(t)

	for i := 0; i < 200; i++ {
		d := New(transporttest.New())
		if err := d.Connect(); err != nil {
			t.Fatalf("connect: %v", err)
		}
		var mu sync.Mutex
		var events []Status
		if err := d.OnStatusChange(func(s Status) {
			mu.Lock()
			events = append(events, s)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("subscribe status: %v", err)
		}

		hello := deviceHello(t, 1)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.Receive(hello)
		}()
		go func() {
			defer wg.Done()
			d.Dispose()
		}()
		wg.Wait()

		mu.Lock()
		got := append([]Status(nil), events...)
		mu.Unlock()
		if len(got) == 0 || got[len(got)-1] != StatusDisposed {
			t.Fatalf("run %d: expected events to end on disposed, got %v", i, got)
		}
		for j := 1; j < len(got); j++ {
			if got[j] == got[j-1] {
				t.Fatalf("run %d: repeated status event in %v", i, got)
			}
		}
	}
}

func TestStatusChangeFromHandlerIsPublished(t *testing.T) {
	testlog.Start(t)

	rec := transporttest.New()
	d := New(rec)
	var events []Status
	d.OnStatusChange(func(s Status) {
		events = append(events, s)
		if s == StatusConnected {
			if err := d.Disconnect(); err != nil {
				t.Errorf("disconnect: %v", err)
			}
		}
	})
	if err := d.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	d.Receive(deviceHello(t, 1))

	want := []Status{StatusConnecting, StatusConnected, StatusNotConnected}
	if len(events) != len(want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], events[i])
		}
	}
	if d.Status() != StatusNotConnected {
		t.Fatalf("expected not connected, got %s", d.Status())
	}
}

// link queues packets in both directions so each side handles them outside
// the peer's send call.
type link struct {
	toDevice queue
	toHost   queue
}

type queue struct {
	pkts []protocol.Packet
}

func (q *queue) Send(pkt protocol.Packet) error {
	payload := append([]byte(nil), pkt.Payload...)
	q.pkts = append(q.pkts, protocol.Packet{Type: pkt.Type, Payload: payload})
	return nil
}

func (q *queue) pop() (protocol.Packet, bool) {
	if len(q.pkts) == 0 {
		return protocol.Packet{}, false
	}
	p := q.pkts[0]
	q.pkts = q.pkts[1:]
	return p, true
}

func (l *link) pump(dev *session.Session, host *Device) {
	for {
		moved := false
		if p, ok := l.toDevice.pop(); ok {
			dev.Receive(p)
			moved = true
		}
		if p, ok := l.toHost.pop(); ok {
			host.Receive(p)
			moved = true
		}
		if !moved {
			return
		}
	}
}

type ledState struct {
	on    bool
	level uint8
}

func (s ledState) Serialize(enc *codec.Encoder) {
	enc.PushBool(s.on)
	enc.PushU8(s.level)
}

func TestEndToEndWithDeviceSession(t *testing.T) {
	testlog.Start(t)

	l := &link{}
	dev := session.New(&l.toHost, nil)
	devRequired := capability.NewStatic(0x0010, 2, nil)
	if _, _, err := dev.AddCapability(devRequired, capability.NewStatic(0x0020, 0, []byte{0xA5})); err != nil {
		t.Fatalf("device capability: %v", err)
	}

	host := New(&l.toDevice)
	hostOffered := capability.NewStatic(0x0020, 1, nil)
	if err := host.AddCapability(capability.NewStatic(0x0010, 0, []byte{3, 4}), hostOffered); err != nil {
		t.Fatalf("host capability: %v", err)
	}

	if err := host.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	l.pump(dev, host)

	if !dev.IsConnected() || host.Status() != StatusConnected {
		t.Fatalf("expected both ends connected, device=%s host=%s", dev.Stage(), host.Status())
	}
	if !bytes.Equal(devRequired.Payload(), []byte{3, 4}) || !bytes.Equal(hostOffered.Payload(), []byte{0xA5}) {
		t.Fatalf("capabilities not exchanged: device=%v host=%v", devRequired.Payload(), hostOffered.Payload())
	}

	var atDevice, atHost []byte
	dev.SubscribeData(0x0001, func(b []byte) {
		atDevice = b
		dev.SendDataValue(0x0002, ledState{on: true, level: 7})
	})
	host.SubscribeData(0x0002, func(b []byte) { atHost = b })

	if err := host.SendData(0x0001, []byte("ping")); err != nil {
		t.Fatalf("host send: %v", err)
	}
	l.pump(dev, host)

	if string(atDevice) != "ping" || !bytes.Equal(atHost, []byte{1, 7}) {
		t.Fatalf("unexpected exchange device=%q host=%v", atDevice, atHost)
	}

	dev.Unavailable()
	host.Unavailable()
	if err := host.Connect(); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	l.pump(dev, host)
	if !dev.IsConnected() || host.Status() != StatusConnected {
		t.Fatalf("expected reconnect, device=%s host=%s", dev.Stage(), host.Status())
	}
}

func TestEndToEndVersionMismatch(t *testing.T) {
	testlog.Start(t)

	l := &link{}
	dev := session.New(&l.toHost, nil)
	host := New(&l.toDevice, WithProtocolVersion(400))

	host.Connect()
	l.pump(dev, host)

	if dev.Stage() != session.StageNone || host.Status() != StatusNotConnected {
		t.Fatalf("expected both ends idle, device=%s host=%s", dev.Stage(), host.Status())
	}
	if !errors.Is(host.Err(), ErrDeviceRejected) {
		t.Fatalf("expected ErrDeviceRejected, got %v", host.Err())
	}
}
