// Package wsconn carries packets over a WebSocket, one binary message per
// packet laid out as `u16 type | payload`.
package wsconn

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/danmuck/fraiselink/internal/protocol"
	"github.com/danmuck/fraiselink/internal/transport/stream"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const typeLen = 2

// DefaultMaxMessageBytes bounds inbound message size.
const DefaultMaxMessageBytes = 64 * 1024

var (
	ErrShortMessage = errors.New("wsconn: message shorter than packet type")
	ErrClosed       = errors.New("wsconn: transport closed")
	ErrRunning      = errors.New("wsconn: read loop already running")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Encode lays out one packet as a binary message body.
func Encode(pkt protocol.Packet) []byte {
	buf := make([]byte, typeLen+len(pkt.Payload))
	binary.BigEndian.PutUint16(buf[0:typeLen], uint16(pkt.Type))
	copy(buf[typeLen:], pkt.Payload)
	return buf
}

// Decode parses a binary message body.
func Decode(msg []byte) (protocol.Packet, error) {
	if len(msg) < typeLen {
		return protocol.Packet{}, ErrShortMessage
	}
	payload := make([]byte, len(msg)-typeLen)
	copy(payload, msg[typeLen:])
	return protocol.Packet{
		Type:    protocol.PacketType(binary.BigEndian.Uint16(msg[0:typeLen])),
		Payload: payload,
	}, nil
}

type Option func(*Transport)

func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) { t.log = logger }
}

// Transport adapts a WebSocket connection to the packet transport contract.
type Transport struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
	log     zerolog.Logger

	running   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

func New(conn *websocket.Conn, opts ...Option) *Transport {
	t := &Transport{conn: conn, log: log.Logger}
	for _, opt := range opts {
		opt(t)
	}
	conn.SetReadLimit(DefaultMaxMessageBytes)
	return t
}

// Dial connects to a WebSocket endpoint serving Handler.
func Dial(ctx context.Context, url string, opts ...Option) (*Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsconn: dial %s: %w", url, err)
	}
	return New(conn, opts...), nil
}

// Handler upgrades each request and hands the transport to accept, which
// owns it until it returns. The connection is closed afterwards.
func Handler(accept func(*Transport), opts ...Option) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Str("remote", r.RemoteAddr).Err(err).Msg("wsconn.Handler upgrade failed")
			return
		}
		t := New(conn, opts...)
		defer t.Close()
		t.log.Info().Str("remote", r.RemoteAddr).Msg("wsconn.Handler client connected")
		accept(t)
		t.log.Info().Str("remote", r.RemoteAddr).Msg("wsconn.Handler client disconnected")
	})
}

func (t *Transport) Send(pkt protocol.Packet) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.BinaryMessage, Encode(pkt))
}

// Run reads messages until the connection ends or ctx is done, then calls
// r.Unavailable once. A normal close returns nil.
func (t *Transport) Run(ctx context.Context, r stream.Receiver) error {
	if !t.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer t.running.Store(false)

	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	err := t.readLoop(r)
	r.Unavailable()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if t.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}

func (t *Transport) readLoop(r stream.Receiver) error {
	for {
		kind, msg, err := t.conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.BinaryMessage {
			t.log.Debug().Int("kind", kind).Msg("wsconn.Transport ignore non-binary message")
			continue
		}
		pkt, err := Decode(msg)
		if err != nil {
			t.log.Debug().Int("len", len(msg)).Err(err).Msg("wsconn.Transport drop message")
			continue
		}
		r.Receive(pkt)
	}
}

// Close sends a close frame and closes the connection once.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.writeMu.Lock()
		_ = t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
