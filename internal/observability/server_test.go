package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/fraiselink/internal/identity"
	"github.com/danmuck/fraiselink/internal/protocol"
	"github.com/danmuck/fraiselink/internal/protocol/capability"
	"github.com/danmuck/fraiselink/internal/protocol/host"
	"github.com/danmuck/fraiselink/internal/protocol/session"
	"github.com/danmuck/fraiselink/internal/testutil/testlog"
	"github.com/danmuck/fraiselink/internal/testutil/transporttest"
)

func connectedSession(t *testing.T, link *Link) *session.Session {
	t.Helper()
	s := session.New(transporttest.New(), identity.Fixed(1), session.WithObserver(link))
	payload, err := capability.EncodeHostHello(session.DefaultProtocolVersion, capability.NewOfferedSet())
	if err != nil {
		t.Fatalf("encode hello: %v", err)
	}
	s.Receive(protocol.Packet{Type: protocol.TypeHostHello, Payload: payload})
	s.Receive(protocol.Packet{Type: protocol.TypeHostAck})
	if !s.IsConnected() {
		t.Fatalf("session did not connect")
	}
	return s
}

func TestSessionLinkSnapshot(t *testing.T) {
	testlog.Start(t)

	link := NewSessionLink("dev-a")
	s := connectedSession(t, link)
	s.SubscribeData(1, func([]byte) {})
	s.Receive(protocol.Packet{Type: protocol.TypeData, Payload: protocol.JoinCoded(1, nil)})
	s.Receive(protocol.Packet{Type: protocol.TypeData, Payload: protocol.JoinCoded(2, nil)})

	snap := link.Snapshot()
	if !snap.Connected || snap.State != "completed" || snap.Role != "device" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.PacketsIn != 4 || snap.PacketsOut != 1 || snap.Dispatched != 1 || snap.Unhandled != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}

	s.Unavailable()
	snap = link.Snapshot()
	if snap.Connected || snap.State != "none" || snap.Disconnects != 1 {
		t.Fatalf("unexpected snapshot after disconnect: %+v", snap)
	}
}

func TestTrackHost(t *testing.T) {
	testlog.Start(t)

	d := host.New(transporttest.New())
	link, err := TrackHost("host-a", d)
	if err != nil {
		t.Fatalf("track host: %v", err)
	}
	if err := d.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if snap := link.Snapshot(); snap.State != "connecting" || snap.Connected {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	hello, _ := capability.EncodeDeviceHello(7, capability.NewOfferedSet())
	d.Receive(protocol.Packet{Type: protocol.TypeDeviceHello, Payload: hello})
	if snap := link.Snapshot(); !snap.Connected {
		t.Fatalf("expected connected snapshot: %+v", snap)
	}
	d.Unavailable()
	if snap := link.Snapshot(); snap.Connected || snap.Disconnects != 1 {
		t.Fatalf("unexpected snapshot after unavailable: %+v", snap)
	}
}

func TestStatusServerRoutes(t *testing.T) {
	testlog.Start(t)

	srv := NewStatusServer("status-test", ":0", nil)
	link := NewSessionLink("dev-b")
	connectedSession(t, link)
	srv.Track(link)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/links", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("links status %d", rec.Code)
	}
	var body struct {
		Links []LinkStatus `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode links: %v", err)
	}
	if len(body.Links) != 1 || body.Links[0].Link != "dev-b" || !body.Links[0].Connected {
		t.Fatalf("unexpected links: %+v", body.Links)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/links/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "status-test") {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "fraiselink_link_packets_total") {
		t.Fatalf("metrics missing link counters")
	}

	srv.Untrack("dev-b")
	if len(srv.Snapshot()) != 0 {
		t.Fatalf("expected no links after untrack")
	}
}
