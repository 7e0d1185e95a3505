// Package netprobe detects the identifier (SSID) of the current wireless
// network by shelling out to the platform's network utility.
package netprobe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ErrNoNetwork is returned when no wireless network could be identified.
var ErrNoNetwork = errors.New("no wireless network detected")

// Probe returns the current network identifier.
type Probe interface {
	NetworkID(ctx context.Context) (string, error)
}

// Func adapts a function to Probe.
type Func func(ctx context.Context) (string, error)

// NetworkID implements Probe.
func (f Func) NetworkID(ctx context.Context) (string, error) { return f(ctx) }

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Command probes the SSID with an OS utility.
type Command struct {
	GOOS string
	Run  Runner
}

// New returns a probe for the running platform.
func New() *Command {
	return &Command{GOOS: runtime.GOOS, Run: execRunner}
}

// NetworkID implements Probe.
func (c *Command) NetworkID(ctx context.Context) (string, error) {
	run := c.Run
	if run == nil {
		run = execRunner
	}

	var (
		out   []byte
		err   error
		parse func(string) string
	)
	switch c.GOOS {
	case "linux":
		out, err = run(ctx, "iwgetid", "-r")
		parse = strings.TrimSpace
	case "darwin":
		out, err = run(ctx, "networksetup", "-getairportnetwork", "en0")
		parse = parseDarwin
	case "windows":
		out, err = run(ctx, "netsh", "wlan", "show", "interfaces")
		parse = parseWindows
	default:
		return "", fmt.Errorf("ssid lookup unsupported on %s: %w", c.GOOS, ErrNoNetwork)
	}
	if err != nil {
		return "", fmt.Errorf("ssid lookup: %w", err)
	}

	ssid := parse(string(out))
	if ssid == "" {
		return "", ErrNoNetwork
	}
	return ssid, nil
}

// parseDarwin reads "Current Wi-Fi Network: <ssid>".
func parseDarwin(out string) string {
	_, ssid, ok := strings.Cut(out, "Network:")
	if !ok {
		return ""
	}
	return strings.TrimSpace(ssid)
}

// parseWindows reads the "SSID : <ssid>" line, skipping "BSSID".
func parseWindows(out string) string {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) == "SSID" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
