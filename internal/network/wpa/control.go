package wpa

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Control-interface errors.
var (
	// ErrCommandFailed is returned when wpa_supplicant answers FAIL.
	ErrCommandFailed = errors.New("wpa: command failed")

	// ErrNotStarted is returned by Connect before Start.
	ErrNotStarted = errors.New("wpa: station not started")

	// ErrUnexpectedReply is returned when a reply cannot be interpreted.
	ErrUnexpectedReply = errors.New("wpa: unexpected reply")
)

// Runner sends one command to wpa_supplicant's control interface and
// returns the trimmed reply.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// CLI is a Runner backed by the wpa_cli binary.
type CLI struct {
	Binary    string
	Interface string
}

// Run executes wpa_cli -i <iface> args... and maps a FAIL reply to
// ErrCommandFailed.
func (c CLI) Run(ctx context.Context, args ...string) (string, error) {
	argv := append([]string{"-i", c.Interface}, args...)
	cmd := exec.CommandContext(ctx, c.Binary, argv...) //nolint:gosec // binary comes from validated config

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("wpa_cli %s: %w: %s", args[0], err, msg)
		}
		return "", fmt.Errorf("wpa_cli %s: %w", args[0], err)
	}

	reply := strings.TrimSpace(string(out))
	if strings.HasPrefix(reply, "FAIL") {
		return reply, fmt.Errorf("%w: %s", ErrCommandFailed, strings.Join(args, " "))
	}
	return reply, nil
}

// Supplicant states reported in the wpa_state field.
const (
	StateDisconnected     = "DISCONNECTED"
	StateInactive         = "INACTIVE"
	StateInterfaceDisable = "INTERFACE_DISABLED"
	StateScanning         = "SCANNING"
	StateAssociating      = "ASSOCIATING"
	StateAssociated       = "ASSOCIATED"
	State4WayHandshake    = "4WAY_HANDSHAKE"
	StateCompleted        = "COMPLETED"
)

// Status is the parsed reply to the status command.
type Status struct {
	State     string
	SSID      string
	BSSID     string
	IPAddress string
	KeyMgmt   string
}

// Connected reports whether the link is up with an address assigned.
func (s Status) Connected() bool {
	return s.State == StateCompleted && s.IPAddress != ""
}

// ParseStatus parses the key=value lines of a status reply. Unknown keys
// are ignored.
func ParseStatus(reply string) (Status, error) {
	var st Status
	sc := bufio.NewScanner(strings.NewReader(reply))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "wpa_state":
			st.State = value
		case "ssid":
			st.SSID = value
		case "bssid":
			st.BSSID = value
		case "ip_address":
			st.IPAddress = value
		case "key_mgmt":
			st.KeyMgmt = value
		}
	}
	if err := sc.Err(); err != nil {
		return Status{}, err
	}
	if st.State == "" {
		return Status{}, fmt.Errorf("%w: no wpa_state in status", ErrUnexpectedReply)
	}
	return st, nil
}

// quote wraps a value in double quotes as set_network expects for strings.
func quote(s string) string {
	return `"` + s + `"`
}
