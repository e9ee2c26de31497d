package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/danmuck/fraiselink/internal/config"
	"github.com/danmuck/fraiselink/internal/identity"
	"github.com/danmuck/fraiselink/internal/observability"
	"github.com/danmuck/fraiselink/internal/protocol/session"
	"github.com/danmuck/fraiselink/internal/transport/serialport"
	"github.com/danmuck/fraiselink/internal/transport/stream"
	"github.com/danmuck/fraiselink/internal/transport/wsconn"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// echoCode is answered with the same body by the device emulator.
const echoCode uint16 = 0x0001

var devicePortFlag string

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Emulate a device over WebSocket or a serial port",
	RunE: func(cmd *cobra.Command, args []string) error {
		if devicePortFlag != "" {
			appCfg.DevicePort = devicePortFlag
		}
		return runDevice(cmd.Context(), appCfg, manifest)
	},
}

func init() {
	deviceCmd.Flags().StringVar(&devicePortFlag, "port", "", "serve on this serial port instead of WebSocket")
}

func deviceIdentity(m config.Manifest) identity.Provider {
	serial := m.Serial
	if serial == "" {
		serial, _ = os.Hostname()
	}
	return identity.Resolve(m.DeviceID, serial)
}

func newDeviceSession(t session.Transport, cfg appConfig, m config.Manifest, link *observability.Link) (*session.Session, error) {
	scfg := session.DefaultConfig()
	scfg.ProtocolVersion = protocolVersion(m)
	scfg.ResetOnDisconnect = cfg.ResetOnDisconnect
	if err := scfg.Validate(); err != nil {
		return nil, err
	}

	s := session.New(t, deviceIdentity(m),
		session.WithConfig(scfg),
		session.WithObserver(link),
		session.WithLogger(log.Logger.With().Str("link", link.Name()).Logger()),
		session.WithResetHook(func() {
			log.Warn().Str("link", link.Name()).Msg("fraisectl device reset requested")
		}),
	)
	if err := registerDevice(s, m); err != nil {
		return nil, err
	}
	s.SubscribeData(echoCode, func(body []byte) {
		if err := s.SendData(echoCode, body); err != nil {
			log.Warn().Err(err).Msg("fraisectl device echo failed")
		}
	})
	s.OnDisconnect(func() {
		log.Info().Str("link", link.Name()).Msg("fraisectl device link lost")
	})
	return s, nil
}

func runDevice(ctx context.Context, cfg appConfig, m config.Manifest) error {
	status := observability.NewStatusServer("fraisectl-device", cfg.StatusAddr, cfg.CorsOrigins)
	link := observability.NewSessionLink("device")
	status.Track(link)
	go func() {
		if err := status.Serve(ctx); err != nil {
			log.Error().Err(err).Msg("fraisectl status server failed")
		}
	}()

	if cfg.DevicePort != "" {
		return serveDeviceSerial(ctx, cfg, m, link)
	}
	return serveDeviceWebSocket(ctx, cfg, m, link)
}

func serveDeviceSerial(ctx context.Context, cfg appConfig, m config.Manifest, link *observability.Link) error {
	pcfg := serialport.DefaultConfig(cfg.DevicePort)
	pcfg.AssertDTR = false
	port := serialport.New(pcfg, serialport.WithStreamOptions(
		stream.WithCorruptHook(observability.RecordCorruptFrame(link.Name())),
	))
	s, err := newDeviceSession(port, cfg, m, link)
	if err != nil {
		return err
	}
	err = port.Serve(ctx, s)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveDeviceWebSocket(ctx context.Context, cfg appConfig, m config.Manifest, link *observability.Link) error {
	mux := http.NewServeMux()
	mux.Handle("/link", wsconn.Handler(func(tr *wsconn.Transport) {
		s, err := newDeviceSession(tr, cfg, m, link)
		if err != nil {
			log.Error().Err(err).Msg("fraisectl device session setup failed")
			return
		}
		if err := tr.Run(ctx, s); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("fraisectl device link ended")
		}
	}))

	srv := &http.Server{Addr: cfg.DeviceListen, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.DeviceListen).Str("device_id", identity.Format(deviceIdentity(m).DeviceID())).Msg("fraisectl device listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}
