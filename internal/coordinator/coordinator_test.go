package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adbtransfer/adbtransfer/internal/driver"
	"github.com/adbtransfer/adbtransfer/internal/plan"
	"github.com/adbtransfer/adbtransfer/internal/pushengine"
	"github.com/adbtransfer/adbtransfer/internal/transport"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func simplePlan(t *testing.T) plan.TransferPlan {
	scratch := t.TempDir()
	writeFile(t, filepath.Join(scratch, "bundle_batch.zip"), "zipzipzip")
	return plan.TransferPlan{
		RunID:      "run1",
		Bundles:    []plan.Bundle{{Name: "bundle_batch.zip", Files: []plan.FileEntry{{RelPath: "b.txt", Size: 9}}}},
		ScratchDir: scratch,
		RemoteTemp: "/sdcard/transfer_temp",
	}
}

func pushOpts() pushengine.Options {
	return pushengine.Options{Workers: 2, Resume: true, VerifySizes: true, RetryFailedChunks: true, MaxRetries: 2}
}

// a ShellFunc that makes driver.Run succeed on the first poll.
func immediateSuccessShell(remoteTemp string, remote map[string]map[string]int64) func(serial, cmd string) ([]string, error) {
	return func(serial, cmd string) ([]string, error) {
		switch {
		case strings.Contains(cmd, "ps | grep"):
			if remote[serial] == nil {
				remote[serial] = map[string]int64{}
			}
			remote[serial][remoteTemp+"/.reassembly_complete"] = 2
			return nil, nil
		case strings.Contains(cmd, "-type f"):
			return []string{remoteTemp + "/out.bin"}, nil
		default:
			return nil, nil
		}
	}
}

// S3: two devices, D1 pushes and reassembles successfully, D2 fails to
// push after retries and never attempts reassembly; neither blocks the
// other, and the summary reflects both outcomes independently.
func TestRun_S3_PartialFailureIsolated(t *testing.T) {
	p := simplePlan(t)
	fake := transport.NewFake(transport.Device{Serial: "d1"}, transport.Device{Serial: "d2"})
	fake.FailPush[transport.FailKey("d2", "/sdcard/transfer_temp/bundle_batch.zip")] = 99
	fake.ShellFunc = immediateSuccessShell(p.RemoteTemp, fake.Remote)

	push := pushengine.New(fake, nil)
	drv := driver.New(fake, nil)
	drv.Sleep = func(time.Duration) {}
	c := New(push, drv, nil)

	opts := Options{
		Push:         pushOpts(),
		Driver:       driver.Options{ReassemblyTimeout: time.Second, PollInterval: time.Millisecond, VerifyAfterReassembly: true},
		RemoteTemp:   p.RemoteTemp,
		TargetDir:    "/sdcard/final",
		UseShellMode: true,
	}

	summary, err := c.Run(context.Background(), []transport.Device{{Serial: "d1"}, {Serial: "d2"}}, p, opts)
	require.NoError(t, err)

	d1 := summary.Devices["d1"]
	require.NotNil(t, d1)
	assert.True(t, d1.PushOK)
	assert.True(t, d1.ReassemblyOK)

	d2 := summary.Devices["d2"]
	require.NotNil(t, d2)
	assert.False(t, d2.PushOK)
	assert.False(t, d2.ReassemblyOK)
	assert.Empty(t, d2.ReassemblyErr) // reassembly was never attempted
}

// PushOnly stops before reassembly even for devices that pushed cleanly.
func TestRun_PushOnly(t *testing.T) {
	p := simplePlan(t)
	fake := transport.NewFake(transport.Device{Serial: "d1"})
	push := pushengine.New(fake, nil)
	drv := driver.New(fake, nil)
	c := New(push, drv, nil)

	opts := Options{
		Push:         pushOpts(),
		UseShellMode: true,
		PushOnly:     true,
		RemoteTemp:   p.RemoteTemp,
	}

	summary, err := c.Run(context.Background(), []transport.Device{{Serial: "d1"}}, p, opts)
	require.NoError(t, err)

	d1 := summary.Devices["d1"]
	require.NotNil(t, d1)
	assert.True(t, d1.PushOK)
	assert.False(t, d1.ReassemblyOK)
}

// Variant B: a single device lock-steps through every phase and ends in
// the DONE state when the prompt at confirm_permission approves.
func TestRun_VariantB_Completes(t *testing.T) {
	p := simplePlan(t)
	fake := transport.NewFake(transport.Device{Serial: "d1"})
	fake.ShellFunc = immediateSuccessShell(p.RemoteTemp, fake.Remote)

	push := pushengine.New(fake, nil)
	drv := driver.New(fake, nil)
	drv.Sleep = func(time.Duration) {}
	c := New(push, drv, nil)

	promptCalls := 0
	opts := Options{
		Push:         pushOpts(),
		Driver:       driver.Options{ReassemblyTimeout: time.Second, PollInterval: time.Millisecond, VerifyAfterReassembly: true},
		RemoteTemp:   p.RemoteTemp,
		TargetDir:    "/sdcard/final",
		UseShellMode: false,
		PromptFunc: func(phase string, devices []string) bool {
			promptCalls++
			return true
		},
	}

	summary, err := c.Run(context.Background(), []transport.Device{{Serial: "d1"}}, p, opts)
	require.NoError(t, err)

	d1 := summary.Devices["d1"]
	require.NotNil(t, d1)
	assert.Equal(t, "DONE", d1.State)
	assert.True(t, d1.ReassemblyOK)
	assert.Equal(t, 1, promptCalls)
}

// Variant B: declining the confirm_permission prompt marks every device
// failed instead of deadlocking on the remaining barriers.
func TestRun_VariantB_AbortedAtPrompt(t *testing.T) {
	p := simplePlan(t)
	fake := transport.NewFake(transport.Device{Serial: "d1"}, transport.Device{Serial: "d2"})
	fake.ShellFunc = immediateSuccessShell(p.RemoteTemp, fake.Remote)

	push := pushengine.New(fake, nil)
	drv := driver.New(fake, nil)
	drv.Sleep = func(time.Duration) {}
	c := New(push, drv, nil)

	opts := Options{
		Push:         pushOpts(),
		Driver:       driver.Options{ReassemblyTimeout: time.Second, PollInterval: time.Millisecond},
		RemoteTemp:   p.RemoteTemp,
		TargetDir:    "/sdcard/final",
		UseShellMode: false,
		PromptFunc: func(phase string, devices []string) bool {
			return false
		},
	}

	done := make(chan *Summary, 1)
	go func() {
		summary, _ := c.Run(context.Background(), []transport.Device{{Serial: "d1"}, {Serial: "d2"}}, p, opts)
		done <- summary
	}()

	select {
	case summary := <-done:
		for _, serial := range []string{"d1", "d2"} {
			ds := summary.Devices[serial]
			require.NotNil(t, ds)
			assert.NotEqual(t, "DONE", ds.State)
			assert.False(t, ds.ReassemblyOK)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run deadlocked after prompt rejection")
	}
}
