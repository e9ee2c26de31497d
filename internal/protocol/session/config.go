package session

import (
	"errors"
	"time"
)

// DefaultProtocolVersion is the HostHello version this device accepts.
const DefaultProtocolVersion uint16 = 410

var ErrInvalidProtocolVersion = errors.New("session: invalid protocol version")

// BackoffConfig defines reconnect backoff behavior for link supervisors.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines session protocol defaults.
type Config struct {
	ProtocolVersion   uint16
	ResetOnDisconnect bool
	Reconnect         BackoffConfig
}

// DefaultConfig returns the firmware defaults: version 410, no platform
// reset on disconnect.
func DefaultConfig() Config {
	return Config{
		ProtocolVersion:   DefaultProtocolVersion,
		ResetOnDisconnect: false,
		Reconnect: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

func (c Config) Validate() error {
	if c.ProtocolVersion == 0 {
		return ErrInvalidProtocolVersion
	}
	return nil
}
