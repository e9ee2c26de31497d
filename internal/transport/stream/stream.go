// Package stream carries framed packets over any byte stream.
//
// Send is safe for concurrent use. Run is the single read loop and the only
// path into the receiver: it delivers packets one at a time and signals
// Unavailable exactly once when the stream ends.
package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/danmuck/fraiselink/internal/protocol"
	"github.com/danmuck/fraiselink/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed    = errors.New("stream: transport closed")
	ErrRunning   = errors.New("stream: read loop already running")
	ErrNilStream = errors.New("stream: nil read/write closer")
)

// Receiver consumes packets from a transport read loop.
type Receiver interface {
	Receive(pkt protocol.Packet)
	Unavailable()
}

type Option func(*Transport)

func WithLimits(l frame.Limits) Option {
	return func(t *Transport) { t.limits = l }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) { t.log = logger }
}

// WithCorruptHook is called for every frame dropped by the read loop.
func WithCorruptHook(fn func(error)) Option {
	return func(t *Transport) { t.onCorrupt = fn }
}

// Stats is a snapshot of transport counters.
type Stats struct {
	FramesIn  uint64
	FramesOut uint64
	Corrupt   uint64
}

type Transport struct {
	writeMu   sync.Mutex
	rw        io.ReadWriteCloser
	limits    frame.Limits
	log       zerolog.Logger
	onCorrupt func(error)

	running   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	corrupt   atomic.Uint64
}

func New(rw io.ReadWriteCloser, opts ...Option) *Transport {
	t := &Transport{
		rw:     rw,
		limits: frame.DefaultLimits(),
		log:    log.Logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send writes one frame. Concurrent senders are serialized.
func (t *Transport) Send(pkt protocol.Packet) error {
	if t.rw == nil {
		return ErrNilStream
	}
	if t.closed.Load() {
		return ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := frame.WritePacket(t.rw, pkt, t.limits); err != nil {
		return err
	}
	t.framesOut.Add(1)
	return nil
}

// Run reads frames until the stream fails or ctx ends, then calls
// r.Unavailable once. A clean EOF returns nil.
func (t *Transport) Run(ctx context.Context, r Receiver) error {
	if t.rw == nil {
		return ErrNilStream
	}
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
	if errors.Is(err, io.EOF) || t.closed.Load() {
		return nil
	}
	return err
}

func (t *Transport) readLoop(r Receiver) error {
	reader := frame.NewReader(t.rw, t.limits)
	for {
		pkt, err := reader.ReadPacket()
		if err != nil {
			if frame.IsCorrupt(err) {
				t.corrupt.Add(1)
				t.log.Debug().Err(err).Msg("stream.Transport drop corrupt frame")
				if t.onCorrupt != nil {
					t.onCorrupt(err)
				}
				continue
			}
			return err
		}
		t.framesIn.Add(1)
		r.Receive(pkt)
	}
}

// Close closes the underlying stream once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if t.rw != nil {
			t.closeErr = t.rw.Close()
		}
	})
	return t.closeErr
}

func (t *Transport) Stats() Stats {
	return Stats{
		FramesIn:  t.framesIn.Load(),
		FramesOut: t.framesOut.Load(),
		Corrupt:   t.corrupt.Load(),
	}
}
