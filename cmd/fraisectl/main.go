package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/fraiselink/internal/config"
	"github.com/danmuck/fraiselink/internal/logging"
	"github.com/danmuck/fraiselink/internal/protocol/capability"
	"github.com/danmuck/fraiselink/internal/protocol/host"
	"github.com/danmuck/fraiselink/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	manifestFile string

	appCfg   appConfig
	manifest config.Manifest
)

var rootCmd = &cobra.Command{
	Use:           "fraisectl",
	Short:         "Run and inspect fraiselink device sessions",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		appCfg, err = loadAppConfig(cfgFile)
		if err != nil {
			return err
		}
		logging.Apply(appCfg.loggingConfig())

		if manifestFile != "" {
			appCfg.Manifest = manifestFile
		}
		if appCfg.Manifest == "" {
			manifest = config.Manifest{Name: "fraiselink"}
			return nil
		}
		manifest, err = config.LoadManifest(appCfg.Manifest)
		if err != nil {
			return err
		}
		log.Debug().Str("manifest", appCfg.Manifest).Int("capabilities", len(manifest.Capabilities)).Msg("fraisectl manifest loaded")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "fraisectl TOML config")
	rootCmd.PersistentFlags().StringVarP(&manifestFile, "manifest", "m", "", "capability manifest TOML (overrides config)")
	rootCmd.AddCommand(deviceCmd, hostCmd, portsCmd, configCmd)
}

func protocolVersion(m config.Manifest) uint16 {
	if m.Version != 0 {
		return m.Version
	}
	return session.DefaultProtocolVersion
}

// registerDevice installs the manifest on a device session.
func registerDevice(s *session.Session, m config.Manifest) error {
	required, err := m.Required()
	if err != nil {
		return err
	}
	offered, err := m.Offered()
	if err != nil {
		return err
	}
	for _, c := range required {
		if _, err := s.RegisterRequired(c); err != nil {
			return fmt.Errorf("register required 0x%04x: %w", c.ID(), err)
		}
	}
	for _, c := range offered {
		if _, err := s.RegisterOffered(c); err != nil {
			return fmt.Errorf("register offered 0x%04x: %w", c.ID(), err)
		}
	}
	return nil
}

// registerHost mirrors the manifest on the host: what the device requires
// is announced, what it offers is decoded.
func registerHost(d *host.Device, m config.Manifest) ([]*capability.Static, error) {
	required, err := m.Required()
	if err != nil {
		return nil, err
	}
	offered, err := m.Offered()
	if err != nil {
		return nil, err
	}
	for _, c := range required {
		if err := d.AddCapability(c, nil); err != nil {
			return nil, err
		}
	}
	for _, c := range offered {
		if err := d.AddCapability(nil, c); err != nil {
			return nil, err
		}
	}
	return offered, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fraisectl: %v\n", err)
		os.Exit(1)
	}
}
