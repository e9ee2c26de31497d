// Package serialport runs the packet transport over a serial device and
// reopens it after every link loss.
package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/fraiselink/internal/protocol"
	"github.com/danmuck/fraiselink/internal/protocol/session"
	"github.com/danmuck/fraiselink/internal/transport/stream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const DefaultBaudRate = 115200

var (
	ErrNotOpen = errors.New("serialport: port not open")
	ErrNoPort  = errors.New("serialport: port name required")
	ErrBadBaud = errors.New("serialport: baud rate must be positive")
)

// Port is the subset of a serial port the link needs.
type Port interface {
	io.ReadWriteCloser
	SetDTR(dtr bool) error
}

// Opener opens a named port.
type Opener func(name string, mode *serial.Mode) (Port, error)

func openSerial(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

type Config struct {
	Port      string
	BaudRate  int
	AssertDTR bool
	Reconnect session.BackoffConfig
}

func DefaultConfig(port string) Config {
	return Config{
		Port:      port,
		BaudRate:  DefaultBaudRate,
		AssertDTR: true,
		Reconnect: session.DefaultConfig().Reconnect,
	}
}

func (c Config) Validate() error {
	if c.Port == "" {
		return ErrNoPort
	}
	if c.BaudRate <= 0 {
		return ErrBadBaud
	}
	return nil
}

type Option func(*Link)

func WithOpener(fn Opener) Option {
	return func(l *Link) { l.open = fn }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Link) { l.log = logger }
}

// WithStreamOptions forwards options to every stream.Transport the link
// creates.
func WithStreamOptions(opts ...stream.Option) Option {
	return func(l *Link) { l.streamOpts = append(l.streamOpts, opts...) }
}

// WithOnOpen runs fn after each successful open, before the read loop
// starts. Hosts use it to send HostHello.
func WithOnOpen(fn func()) Option {
	return func(l *Link) { l.onOpen = fn }
}

// Link is a reconnecting serial transport. It is itself a packet transport:
// Send goes to whichever port is currently open.
type Link struct {
	cfg        Config
	log        zerolog.Logger
	open       Opener
	streamOpts []stream.Option
	onOpen     func()
	rng        *rand.Rand

	mu      sync.Mutex
	current *stream.Transport
}

func New(cfg Config, opts ...Option) *Link {
	l := &Link{
		cfg:  cfg,
		log:  log.Logger,
		open: openSerial,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open opens the port once and wraps it in a stream transport.
func (l *Link) Open() (*stream.Transport, error) {
	if err := l.cfg.Validate(); err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: l.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := l.open(l.cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", l.cfg.Port, err)
	}
	if l.cfg.AssertDTR {
		if err := port.SetDTR(true); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("serialport: set dtr %s: %w", l.cfg.Port, err)
		}
	}
	tr := stream.New(port, l.streamOpts...)
	l.mu.Lock()
	l.current = tr
	l.mu.Unlock()
	return tr, nil
}

func (l *Link) Send(pkt protocol.Packet) error {
	l.mu.Lock()
	tr := l.current
	l.mu.Unlock()
	if tr == nil {
		return ErrNotOpen
	}
	return tr.Send(pkt)
}

// Serve opens the port and runs the read loop, reopening with backoff after
// each failure until ctx ends.
func (l *Link) Serve(ctx context.Context, r stream.Receiver) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tr, err := l.Open()
		if err != nil {
			if errors.Is(err, ErrNoPort) || errors.Is(err, ErrBadBaud) {
				return err
			}
			attempt++
			l.log.Warn().Int("attempt", attempt).Str("port", l.cfg.Port).Err(err).Msg("serialport.Link open failed")
			if err := session.WaitBackoff(ctx, l.cfg.Reconnect, attempt, l.rng); err != nil {
				return err
			}
			continue
		}
		attempt = 0
		l.log.Info().Str("port", l.cfg.Port).Int("baud", l.cfg.BaudRate).Msg("serialport.Link opened")
		if l.onOpen != nil {
			l.onOpen()
		}
		runErr := tr.Run(ctx, r)
		_ = tr.Close()
		l.mu.Lock()
		if l.current == tr {
			l.current = nil
		}
		l.mu.Unlock()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.log.Info().Str("port", l.cfg.Port).AnErr("cause", runErr).Msg("serialport.Link unavailable")
		attempt++
		if err := session.WaitBackoff(ctx, l.cfg.Reconnect, attempt, l.rng); err != nil {
			return err
		}
	}
}

// PortInfo describes one enumerated serial port.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// List enumerates the serial ports present on this machine.
func List() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("serialport: enumerate: %w", err)
	}
	out := make([]PortInfo, 0, len(details))
	for _, d := range details {
		out = append(out, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return out, nil
}
