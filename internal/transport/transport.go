// Package transport wraps invocations of the external adb binary: running
// arbitrary commands, enumerating devices, pushing files, running shell
// commands on a device, and the WiFi pairing/connect handshake. It is the
// only component that spawns subprocesses; every other component depends
// on the Transport interface so it can be exercised against a fake.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/adbtransfer/adbtransfer/internal/xerrors"
)

// DeviceKind classifies how a device is currently connected.
type DeviceKind int

const (
	KindUSB DeviceKind = iota
	KindWiFi
)

func (k DeviceKind) String() string {
	if k == KindWiFi {
		return "wifi"
	}
	return "usb"
}

// Device is one entry from `adb devices -l`.
type Device struct {
	Serial string
	Kind   DeviceKind
	Model  string
}

// Transport is the seam every other component talks to instead of
// shelling out directly, so they can be tested against a fake.
type Transport interface {
	// Run launches adb with args, merges stderr into stdout, and returns
	// the output split into lines along with the process exit code. A
	// nonzero exit code is also returned as a non-nil error.
	Run(ctx context.Context, args ...string) (lines []string, exitCode int, err error)

	// Devices lists attached and connected devices.
	Devices(ctx context.Context) ([]Device, error)

	// Push runs `adb -s <serial> push <localPath> <remotePath>`.
	Push(ctx context.Context, serial, localPath, remotePath string) error

	// Shell runs a single command line on the device's shell and returns
	// its output lines. The command line is passed to `adb shell` as
	// given; callers quote any paths they embed in it with ShellQuote.
	Shell(ctx context.Context, serial string, commandLine string) ([]string, error)

	// Stat returns the remote file size, or an error if it doesn't exist.
	Stat(ctx context.Context, serial, remotePath string) (int64, error)

	// ConnectWiFi runs `adb connect host:port`.
	ConnectWiFi(ctx context.Context, hostPort string) (bool, error)

	// EnableTCPIP runs `adb -s <serial> tcpip <port>`.
	EnableTCPIP(ctx context.Context, serial string, port int) error

	// Pair runs `adb pair host:port code` for the WiFi pairing handshake
	// introduced in Android 11+.
	Pair(ctx context.Context, hostPort, code string) (bool, error)

	// DeviceIP runs `ip -4 addr show` on the device and returns the best
	// candidate IP by interface priority (wlan* > eth* > other).
	DeviceIP(ctx context.Context, serial string) (string, bool, error)
}

// AdbTransport is the real Transport, shelling out to the adb binary on PATH.
type AdbTransport struct {
	// Path to the adb executable; defaults to "adb" (resolved via PATH).
	Path string
	Log  *logrus.Logger
}

func New(log *logrus.Logger) *AdbTransport {
	return &AdbTransport{Path: "adb", Log: log}
}

func (t *AdbTransport) binary() string {
	if t.Path == "" {
		return "adb"
	}
	return t.Path
}

func (t *AdbTransport) Run(ctx context.Context, args ...string) ([]string, int, error) {
	cmd := exec.CommandContext(ctx, t.binary(), args...)
	setPlatformAttrs(cmd)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if t.Log != nil {
		t.Log.WithField("args", args).Debug("adb run")
	}

	runErr := cmd.Run()

	var lines []string
	scanner := bufio.NewScanner(&buf)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return lines, -1, fmt.Errorf("%w: launching adb %v: %v", xerrors.ErrTransport, args, runErr)
	}

	if exitCode != 0 {
		return lines, exitCode, fmt.Errorf("%w: adb %v exited %d: %s", xerrors.ErrTransport, args, exitCode, strings.Join(lines, "\n"))
	}

	return lines, exitCode, nil
}

func (t *AdbTransport) deviceArgs(serial string, args ...string) []string {
	out := make([]string, 0, len(args)+2)
	if serial != "" {
		out = append(out, "-s", serial)
	}
	out = append(out, args...)
	return out
}

func (t *AdbTransport) Devices(ctx context.Context) ([]Device, error) {
	lines, _, err := t.Run(ctx, "devices", "-l")
	if err != nil {
		return nil, err
	}

	var devices []Device
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		serial := fields[0]
		if fields[1] != "device" {
			// unauthorized, offline, etc — skip.
			continue
		}

		d := Device{Serial: serial, Kind: classifySerial(serial)}
		for _, f := range fields[2:] {
			if strings.HasPrefix(f, "model:") {
				d.Model = strings.TrimPrefix(f, "model:")
			}
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func classifySerial(serial string) DeviceKind {
	if strings.Contains(serial, ".") && strings.Contains(serial, ":") {
		return KindWiFi
	}
	return KindUSB
}

func (t *AdbTransport) Push(ctx context.Context, serial, localPath, remotePath string) error {
	_, _, err := t.Run(ctx, t.deviceArgs(serial, "push", localPath, remotePath)...)
	return err
}

func (t *AdbTransport) Shell(ctx context.Context, serial string, commandLine string) ([]string, error) {
	lines, _, err := t.Run(ctx, t.deviceArgs(serial, "shell", commandLine)...)
	return lines, err
}

func (t *AdbTransport) Stat(ctx context.Context, serial, remotePath string) (int64, error) {
	cmd := fmt.Sprintf("stat -c%%s %s 2>/dev/null", ShellQuote(remotePath))
	lines, err := t.Shell(ctx, serial, cmd)
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 {
		return 0, fmt.Errorf("%w: remote file not found: %s", xerrors.ErrVerification, remotePath)
	}
	size, parseErr := strconv.ParseInt(strings.TrimSpace(lines[0]), 10, 64)
	if parseErr != nil {
		return 0, fmt.Errorf("%w: could not parse remote size for %s: %v", xerrors.ErrVerification, remotePath, parseErr)
	}
	return size, nil
}

func (t *AdbTransport) ConnectWiFi(ctx context.Context, hostPort string) (bool, error) {
	lines, _, err := t.Run(ctx, "connect", hostPort)
	if err != nil {
		return false, err
	}
	joined := strings.ToLower(strings.Join(lines, "\n"))
	return strings.Contains(joined, "connected to") || strings.Contains(joined, "already connected"), nil
}

func (t *AdbTransport) EnableTCPIP(ctx context.Context, serial string, port int) error {
	_, _, err := t.Run(ctx, t.deviceArgs(serial, "tcpip", strconv.Itoa(port))...)
	return err
}

func (t *AdbTransport) Pair(ctx context.Context, hostPort, code string) (bool, error) {
	lines, _, err := t.Run(ctx, "pair", hostPort, code)
	if err != nil {
		return false, err
	}
	joined := strings.ToLower(strings.Join(lines, "\n"))
	return strings.Contains(joined, "successfully paired"), nil
}

// interfacePriority ranks interface name prefixes for DeviceIP selection;
// lower is better.
func interfacePriority(iface string) int {
	switch {
	case strings.HasPrefix(iface, "wlan"):
		return 0
	case strings.HasPrefix(iface, "eth"):
		return 1
	default:
		return 2
	}
}

func (t *AdbTransport) DeviceIP(ctx context.Context, serial string) (string, bool, error) {
	lines, err := t.Shell(ctx, serial, "ip -4 addr show")
	if err != nil {
		return "", false, err
	}

	type candidate struct {
		iface string
		ip    string
	}
	var candidates []candidate
	var currentIface string

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if fields := strings.SplitN(trimmed, ": ", 3); len(fields) >= 2 && !strings.HasPrefix(trimmed, "inet") {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				currentIface = strings.SplitN(fields[1], "@", 2)[0]
			}
			continue
		}
		if strings.HasPrefix(trimmed, "inet ") {
			fields := strings.Fields(trimmed)
			if len(fields) < 2 {
				continue
			}
			ip := strings.SplitN(fields[1], "/", 2)[0]
			if ip == "127.0.0.1" {
				continue
			}
			candidates = append(candidates, candidate{iface: currentIface, ip: ip})
		}
	}

	if len(candidates) == 0 {
		return "", false, nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if interfacePriority(c.iface) < interfacePriority(best.iface) {
			best = c
		}
	}
	return best.ip, true, nil
}
