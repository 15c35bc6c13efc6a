// Package identity derives the tracker's device identity.
//
// The identity is the station interface's hardware address rendered as
// upper-case colon-separated hex ("24:0A:C4:12:34:56") unless the
// configuration pins an explicit ID. It appears in every payload and in
// the egress topic, so it must be usable as a single MQTT topic level.
package identity

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/config"
)

var (
	// ErrNoHardwareAddress is returned when the interface has no MAC.
	ErrNoHardwareAddress = errors.New("identity: interface has no hardware address")

	// ErrInvalidID is returned for IDs that cannot form a topic level.
	ErrInvalidID = errors.New("identity: invalid device id")
)

// maxIDLength keeps /egress/<id> well inside broker topic limits.
const maxIDLength = 64

// HardwareAddrFunc looks up the hardware address of a named interface.
type HardwareAddrFunc func(name string) (net.HardwareAddr, error)

// InterfaceHardwareAddr reads the hardware address from the host.
func InterfaceHardwareAddr(name string) (net.HardwareAddr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	return iface.HardwareAddr, nil
}

// DeviceID resolves the identity for cfg using the host's interfaces.
func DeviceID(cfg config.DeviceConfig) (string, error) {
	return Resolve(cfg, InterfaceHardwareAddr)
}

// Resolve returns cfg.ID when set, otherwise the formatted hardware
// address of cfg.Interface as reported by lookup.
func Resolve(cfg config.DeviceConfig, lookup HardwareAddrFunc) (string, error) {
	if cfg.ID != "" {
		if err := Validate(cfg.ID); err != nil {
			return "", err
		}
		return cfg.ID, nil
	}

	hw, err := lookup(cfg.Interface)
	if err != nil {
		return "", fmt.Errorf("identity: reading %s: %w", cfg.Interface, err)
	}
	if len(hw) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoHardwareAddress, cfg.Interface)
	}
	return FormatMAC(hw), nil
}

// FormatMAC renders hw as upper-case colon-separated hex.
func FormatMAC(hw net.HardwareAddr) string {
	return strings.ToUpper(hw.String())
}

// Validate checks that id can be used as one MQTT topic level.
func Validate(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case len(id) > maxIDLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidID, maxIDLength)
	case strings.ContainsAny(id, "/+#"):
		return fmt.Errorf("%w: %q contains a topic separator or wildcard", ErrInvalidID, id)
	case strings.ContainsFunc(id, func(r rune) bool { return r <= ' ' || r == 0x7f }):
		return fmt.Errorf("%w: %q contains whitespace or control characters", ErrInvalidID, id)
	}
	return nil
}
