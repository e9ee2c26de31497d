package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/fraiselink/internal/identity"
	"github.com/danmuck/fraiselink/internal/observability"
	"github.com/danmuck/fraiselink/internal/protocol/capability"
	"github.com/danmuck/fraiselink/internal/protocol/host"
	"github.com/danmuck/fraiselink/internal/transport/serialport"
	"github.com/danmuck/fraiselink/internal/transport/stream"
	"github.com/danmuck/fraiselink/internal/transport/wsconn"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	hostPortFlag string
	hostURLFlag  string
	hostSends    []string
	hostOnce     bool
	hostTimeout  time.Duration
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Connect to a device, complete the handshake and exchange data",
	RunE: func(cmd *cobra.Command, args []string) error {
		if hostPortFlag != "" {
			appCfg.HostPort = hostPortFlag
		}
		if hostURLFlag != "" {
			appCfg.HostURL = hostURLFlag
		}
		msgs := make([]outbound, 0, len(hostSends))
		for _, raw := range hostSends {
			msg, err := parseOutbound(raw)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return runHost(cmd.Context(), msgs)
	},
}

func init() {
	hostCmd.Flags().StringVar(&hostPortFlag, "port", "", "serial port of the device")
	hostCmd.Flags().StringVar(&hostURLFlag, "url", "", "WebSocket URL of the device")
	hostCmd.Flags().StringArrayVar(&hostSends, "send", nil, "data packet CODE=HEX to send once connected (repeatable)")
	hostCmd.Flags().BoolVar(&hostOnce, "once", false, "exit after sending")
	hostCmd.Flags().DurationVar(&hostTimeout, "timeout", 10*time.Second, "handshake timeout")
}

type outbound struct {
	Code uint16
	Body []byte
}

// parseOutbound reads CODE=HEX where CODE is decimal or 0x-prefixed.
func parseOutbound(raw string) (outbound, error) {
	codeText, bodyText, ok := strings.Cut(strings.TrimSpace(raw), "=")
	if !ok {
		return outbound{}, fmt.Errorf("send %q: expected CODE=HEX", raw)
	}
	code, err := strconv.ParseUint(strings.TrimSpace(codeText), 0, 16)
	if err != nil {
		return outbound{}, fmt.Errorf("send %q: code: %w", raw, err)
	}
	body, err := hex.DecodeString(strings.TrimSpace(bodyText))
	if err != nil {
		return outbound{}, fmt.Errorf("send %q: body: %w", raw, err)
	}
	return outbound{Code: uint16(code), Body: body}, nil
}

type hostLink interface {
	host.Transport
	Run(ctx context.Context, r stream.Receiver) error
}

func runHost(ctx context.Context, msgs []outbound) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		dev   *host.Device
		serve func() error
	)
	hostOpts := []host.Option{host.WithProtocolVersion(protocolVersion(manifest))}
	switch {
	case appCfg.HostURL != "":
		tr, err := wsconn.Dial(ctx, appCfg.HostURL)
		if err != nil {
			return err
		}
		dev = host.New(tr, hostOpts...)
		serve = func() error { return runLink(ctx, tr, dev) }
	case appCfg.HostPort != "":
		pcfg := serialport.DefaultConfig(appCfg.HostPort)
		pcfg.BaudRate = appCfg.HostBaud
		pcfg.AssertDTR = appCfg.HostDTR
		port := serialport.New(pcfg,
			serialport.WithOnOpen(func() {
				if err := dev.Connect(); err != nil {
					log.Warn().Err(err).Msg("fraisectl host connect failed")
				}
			}),
			serialport.WithStreamOptions(stream.WithCorruptHook(observability.RecordCorruptFrame("host"))),
		)
		dev = host.New(port, hostOpts...)
		serve = func() error { return port.Serve(ctx, dev) }
	default:
		return errors.New("host: set --url or --port")
	}

	offered, err := registerHost(dev, manifest)
	if err != nil {
		return err
	}
	link, err := observability.TrackHost("host", dev)
	if err != nil {
		return err
	}
	status := observability.NewStatusServer("fraisectl-host", appCfg.StatusAddr, appCfg.CorsOrigins)
	status.Track(link)
	go func() {
		if err := status.Serve(ctx); err != nil {
			log.Error().Err(err).Msg("fraisectl status server failed")
		}
	}()

	connected := make(chan struct{}, 1)
	if err := dev.OnStatusChange(func(s host.Status) {
		if s == host.StatusConnected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	}); err != nil {
		return err
	}
	replies := make(chan struct{}, len(msgs)+1)
	for _, msg := range msgs {
		code := msg.Code
		dev.SubscribeData(code, func(body []byte) {
			pterm.Info.Println(fmt.Sprintf("data 0x%04x: %s", code, hex.EncodeToString(body)))
			replies <- struct{}{}
		})
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- serve() }()

	select {
	case <-connected:
	case err := <-serveErr:
		return err
	case <-time.After(hostTimeout):
		return fmt.Errorf("host: handshake timed out after %s (last error: %v)", hostTimeout, dev.Err())
	case <-ctx.Done():
		return nil
	}
	renderDevice(dev, offered)

	for _, msg := range msgs {
		if err := dev.SendData(msg.Code, msg.Body); err != nil {
			return err
		}
	}

	if hostOnce {
		deadline := time.After(hostTimeout)
		for range msgs {
			select {
			case <-replies:
			case <-deadline:
				pterm.Warning.Println("no reply before timeout")
				return nil
			}
		}
		return nil
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-serveErr:
		return err
	}
}

// runLink starts the read loop and sends HostHello once it is running.
func runLink(ctx context.Context, l hostLink, dev *host.Device) error {
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx, dev) }()
	if err := dev.Connect(); err != nil {
		return err
	}
	err := <-errCh
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func renderDevice(dev *host.Device, offered []*capability.Static) {
	id, _ := dev.DeviceID()
	pterm.Success.Println(fmt.Sprintf("connected to device %s", identity.Format(id)))
	data := pterm.TableData{{"ID", "Payload"}}
	for _, c := range offered {
		data = append(data, []string{fmt.Sprintf("0x%04x", c.ID()), hex.EncodeToString(c.Payload())})
	}
	if len(data) > 1 {
		_ = pterm.DefaultTable.WithHasHeader(true).WithData(data).Render()
	}
}
