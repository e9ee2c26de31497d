package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/fraiselink/internal/logging"
	"github.com/danmuck/fraiselink/internal/transport/serialport"
	"github.com/rs/zerolog"
)

type fileConfig struct {
	Manifest string `toml:"manifest"`
	Device   struct {
		Listen            string `toml:"listen"`
		Port              string `toml:"port"`
		ResetOnDisconnect bool   `toml:"reset_on_disconnect"`
	} `toml:"device"`
	Host struct {
		Port string `toml:"port"`
		Baud int    `toml:"baud"`
		DTR  bool   `toml:"dtr"`
		URL  string `toml:"url"`
	} `toml:"host"`
	Status struct {
		Addr        string   `toml:"addr"`
		CorsOrigins []string `toml:"cors_origins"`
	} `toml:"status"`
	Log struct {
		Level string `toml:"level"`
		File  string `toml:"file"`
	} `toml:"log"`
}

type appConfig struct {
	Manifest string

	DeviceListen      string
	DevicePort        string
	ResetOnDisconnect bool

	HostPort string
	HostBaud int
	HostDTR  bool
	HostURL  string

	StatusAddr  string
	CorsOrigins []string

	LogLevel zerolog.Level
	LogFile  string
}

func defaultAppConfig() appConfig {
	return appConfig{
		DeviceListen: ":9300",
		HostBaud:     serialport.DefaultBaudRate,
		HostDTR:      true,
		StatusAddr:   ":9310",
		LogLevel:     zerolog.InfoLevel,
	}
}

func loadAppConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load fraisectl config: %w", err)
	}

	if meta.IsDefined("manifest") {
		cfg.Manifest = resolveRelative(path, strings.TrimSpace(raw.Manifest))
	}
	if meta.IsDefined("device", "listen") {
		cfg.DeviceListen = strings.TrimSpace(raw.Device.Listen)
	}
	if meta.IsDefined("device", "port") {
		cfg.DevicePort = strings.TrimSpace(raw.Device.Port)
	}
	if meta.IsDefined("device", "reset_on_disconnect") {
		cfg.ResetOnDisconnect = raw.Device.ResetOnDisconnect
	}
	if meta.IsDefined("host", "port") {
		cfg.HostPort = strings.TrimSpace(raw.Host.Port)
	}
	if meta.IsDefined("host", "baud") {
		if raw.Host.Baud <= 0 {
			return appConfig{}, fmt.Errorf("host.baud must be positive: %d", raw.Host.Baud)
		}
		cfg.HostBaud = raw.Host.Baud
	}
	if meta.IsDefined("host", "dtr") {
		cfg.HostDTR = raw.Host.DTR
	}
	if meta.IsDefined("host", "url") {
		cfg.HostURL = strings.TrimSpace(raw.Host.URL)
	}
	if meta.IsDefined("status", "addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.Status.Addr)
	}
	if meta.IsDefined("status", "cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.Status.CorsOrigins)
	}
	if meta.IsDefined("log", "level") {
		lvl, ok := logging.ParseLevel(raw.Log.Level)
		if !ok {
			return appConfig{}, fmt.Errorf("parse log.level: unknown level %q", raw.Log.Level)
		}
		cfg.LogLevel = lvl
	}
	if meta.IsDefined("log", "file") {
		cfg.LogFile = strings.TrimSpace(raw.Log.File)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return appConfig{}, fmt.Errorf("unknown config keys: %v", undecoded)
	}
	return cfg, nil
}

func (c appConfig) loggingConfig() logging.Config {
	lc := logging.ProfileConfig(logging.ProfileRuntime)
	lc.Level = c.LogLevel
	if c.LogFile != "" {
		lc.File = c.LogFile
	}
	return lc
}

func resolveRelative(configPath, target string) string {
	if target == "" || filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(filepath.Dir(configPath), target)
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
