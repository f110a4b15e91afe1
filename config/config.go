// Package config implements ambient concern A2: a validated,
// TOML-serializable configuration struct for the enumerated fields of
// spec.md §6. Loading/saving follows the teacher's own config idiom
// (client2/config.go's BurntSushi/toml struct-tag + Validate() shape),
// generalized from the teacher's mixnet settings to SRT's tunables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/opensrt/gosrt/errs"
)

// Encryption selects the AES key size, or off.
type Encryption string

const (
	EncryptionOff    Encryption = "off"
	EncryptionAES128 Encryption = "aes128"
	EncryptionAES192 Encryption = "aes192"
	EncryptionAES256 Encryption = "aes256"
)

// Config is the enumerated, validated tunable set of §6.
type Config struct {
	Encryption Encryption `toml:"encryption"`
	Passphrase string     `toml:"passphrase"`

	PlaybackDelayMs uint32 `toml:"playback_delay_ms"`
	MSSBytes        uint32 `toml:"mss_bytes"`
	MaxBandwidthBps uint64 `toml:"max_bandwidth_bps"`

	InitialSendWindowPackets uint32 `toml:"initial_send_window_packets"`
	InitialRecvWindowPackets uint32 `toml:"initial_recv_window_packets"`

	KeyRefreshPackets uint64 `toml:"key_refresh_packets"`
	AckFrequencyPackets uint32 `toml:"ack_frequency_packets"`

	RetransmitTimeoutMinUs uint64 `toml:"retransmit_timeout_min_us"`
	RetransmitTimeoutMaxUs uint64 `toml:"retransmit_timeout_max_us"`
	MaxRetransmits         uint32 `toml:"max_retransmits"`
}

// DefaultConfig returns the §6-documented defaults.
func DefaultConfig() Config {
	return Config{
		Encryption:               EncryptionAES256,
		PlaybackDelayMs:          120,
		MSSBytes:                 1500,
		MaxBandwidthBps:          1_000_000,
		InitialSendWindowPackets: 8192,
		InitialRecvWindowPackets: 8192,
		KeyRefreshPackets:        1_000_000,
		AckFrequencyPackets:      10,
		RetransmitTimeoutMinUs:   1_000,
		RetransmitTimeoutMaxUs:   60_000_000,
		MaxRetransmits:           5,
	}
}

// Validate enforces every bound named in §6, returning the first
// violation found as a typed invalid-input error.
func (c Config) Validate() error {
	switch c.Encryption {
	case EncryptionOff, EncryptionAES128, EncryptionAES192, EncryptionAES256:
	default:
		return errs.NewInvalidInput("config.encryption", fmt.Errorf("unknown value %q", c.Encryption))
	}
	if c.Encryption != EncryptionOff {
		if len(c.Passphrase) < 10 || len(c.Passphrase) > 79 {
			return errs.NewInvalidInput("config.passphrase", fmt.Errorf("length %d outside [10,79]", len(c.Passphrase)))
		}
	}
	if c.PlaybackDelayMs < 20 || c.PlaybackDelayMs > 8000 {
		return errs.NewInvalidInput("config.playback_delay_ms", fmt.Errorf("value %d outside [20,8000]", c.PlaybackDelayMs))
	}
	if c.MSSBytes < 76 || c.MSSBytes > 65536 {
		return errs.NewInvalidInput("config.mss_bytes", fmt.Errorf("value %d outside [76,65536]", c.MSSBytes))
	}
	if c.MaxBandwidthBps < 80_000 {
		return errs.NewInvalidInput("config.max_bandwidth_bps", fmt.Errorf("value %d below 80000", c.MaxBandwidthBps))
	}
	if c.InitialSendWindowPackets < 1 {
		return errs.NewInvalidInput("config.initial_send_window_packets", fmt.Errorf("must be >= 1"))
	}
	if c.InitialRecvWindowPackets < 1 {
		return errs.NewInvalidInput("config.initial_recv_window_packets", fmt.Errorf("must be >= 1"))
	}
	if c.KeyRefreshPackets < 1000 {
		return errs.NewInvalidInput("config.key_refresh_packets", fmt.Errorf("must be >= 1000"))
	}
	if c.AckFrequencyPackets < 1 {
		return errs.NewInvalidInput("config.ack_frequency_packets", fmt.Errorf("must be >= 1"))
	}
	if c.RetransmitTimeoutMinUs == 0 || c.RetransmitTimeoutMaxUs < c.RetransmitTimeoutMinUs {
		return errs.NewInvalidInput("config.retransmit_timeout_us", fmt.Errorf("min/max out of order or zero"))
	}
	if c.MaxRetransmits < 1 {
		return errs.NewInvalidInput("config.max_retransmits", fmt.Errorf("must be >= 1"))
	}
	return nil
}

// KeyBits returns the AES key size implied by Encryption, or 0 if off.
func (c Config) KeyBits() int {
	switch c.Encryption {
	case EncryptionAES128:
		return 128
	case EncryptionAES192:
		return 192
	case EncryptionAES256:
		return 256
	default:
		return 0
	}
}

// PlaybackDelay returns PlaybackDelayMs as a time.Duration.
func (c Config) PlaybackDelay() time.Duration {
	return time.Duration(c.PlaybackDelayMs) * time.Millisecond
}

// RetransmitTimeoutBounds returns the configured min/max RTO as durations.
func (c Config) RetransmitTimeoutBounds() (min, max time.Duration) {
	return time.Duration(c.RetransmitTimeoutMinUs) * time.Microsecond,
		time.Duration(c.RetransmitTimeoutMaxUs) * time.Microsecond
}

// LoadConfigFile reads and validates a TOML config file at path.
func LoadConfigFile(path string) (Config, error) {
	c := DefaultConfig()
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, errs.NewInvalidInput("config.load", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// SaveConfigFile writes c to path as TOML, creating or truncating it.
func SaveConfigFile(path string, c Config) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.NewInvalidInput("config.save", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}
