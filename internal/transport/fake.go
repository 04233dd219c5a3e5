package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/adbtransfer/adbtransfer/internal/xerrors"
)

// Fake is an in-memory Transport used by every component's tests so none
// of them need a real device or adb binary. It models one remote
// filesystem per device serial as a map of path -> size, plus optional
// per-path injected failures.
type Fake struct {
	mu       sync.Mutex
	Remote   map[string]map[string]int64 // serial -> remotePath -> size
	Devices_ []Device
	// FailPush is keyed by "serial|remotePath" so two devices pushing the
	// same remote path can be failed independently; see FailKey.
	FailPush  map[string]int
	PushCount map[string]int
	ShellFunc func(serial, cmd string) ([]string, error)
}

// FailKey builds a FailPush/PushCount key for one device+path pair.
func FailKey(serial, remotePath string) string {
	return serial + "|" + remotePath
}

func NewFake(devices ...Device) *Fake {
	return &Fake{
		Remote:    make(map[string]map[string]int64),
		Devices_:  devices,
		FailPush:  make(map[string]int),
		PushCount: make(map[string]int),
	}
}

func (f *Fake) remoteFor(serial string) map[string]int64 {
	m, ok := f.Remote[serial]
	if !ok {
		m = make(map[string]int64)
		f.Remote[serial] = m
	}
	return m
}

func (f *Fake) Run(ctx context.Context, args ...string) ([]string, int, error) {
	return nil, 0, nil
}

func (f *Fake) Devices(ctx context.Context) ([]Device, error) {
	return f.Devices_, nil
}

func (f *Fake) Push(ctx context.Context, serial, localPath, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := FailKey(serial, remotePath)
	f.PushCount[key]++
	if remaining := f.FailPush[key]; remaining > 0 {
		f.FailPush[key] = remaining - 1
		return fmt.Errorf("%w: injected failure pushing %s", xerrors.ErrTransport, remotePath)
	}

	size, err := statLocal(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", xerrors.ErrIO, err)
	}
	f.remoteFor(serial)[remotePath] = size
	return nil
}

func (f *Fake) Shell(ctx context.Context, serial, commandLine string) ([]string, error) {
	if f.ShellFunc != nil {
		return f.ShellFunc(serial, commandLine)
	}
	return nil, nil
}

func (f *Fake) Stat(ctx context.Context, serial, remotePath string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	size, ok := f.remoteFor(serial)[remotePath]
	if !ok {
		return 0, fmt.Errorf("%w: remote file not found: %s", xerrors.ErrVerification, remotePath)
	}
	return size, nil
}

func (f *Fake) ConnectWiFi(ctx context.Context, hostPort string) (bool, error) { return true, nil }

func (f *Fake) EnableTCPIP(ctx context.Context, serial string, port int) error { return nil }

func (f *Fake) Pair(ctx context.Context, hostPort, code string) (bool, error) { return true, nil }

func (f *Fake) DeviceIP(ctx context.Context, serial string) (string, bool, error) {
	return "", false, nil
}

// RemoveRemote deletes a path from the fake remote filesystem, simulating
// e.g. an injected post-push corruption for verification-retry tests.
func (f *Fake) RemoveRemote(serial, remotePath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.remoteFor(serial), remotePath)
}
