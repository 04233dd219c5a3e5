// Package driver drives one device through Variant A (shell-driven)
// reassembly: push the generated script, invoke it detached, poll for its
// completion marker, verify the result, and move it to its final
// destination.
package driver

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adbtransfer/adbtransfer/internal/transport"
	"github.com/adbtransfer/adbtransfer/internal/util"
	"github.com/adbtransfer/adbtransfer/internal/xerrors"
)

const scriptName = "unified.sh"
const markerName = ".reassembly_complete"

// Options configures one device's reassembly run.
type Options struct {
	ReassemblyTimeout     time.Duration
	PollInterval          time.Duration // default 5s
	VerifyAfterReassembly bool
	DeleteTempFolder      bool
}

// Outcome is one device's reassembly result.
type Outcome struct {
	Device        string
	ReassemblyOK  bool
	MovedOK       bool
}

// Driver runs the shell-driven reassembly protocol against one device.
type Driver struct {
	Transport transport.Transport
	Log       *logrus.Logger
	Clock     util.Clock
	// Sleep is injectable so tests can drive the poll loop without real
	// wall-clock delays.
	Sleep func(time.Duration)
}

func New(t transport.Transport, log *logrus.Logger) *Driver {
	return &Driver{Transport: t, Log: log, Clock: util.SystemClock, Sleep: time.Sleep}
}

// Run pushes and invokes the reassembly script on device, polls for
// completion, verifies the result, and moves it to target.
func (d *Driver) Run(ctx context.Context, device transport.Device, remoteTemp, target string, opts Options) (*Outcome, error) {
	outcome := &Outcome{Device: device.Serial}

	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}

	if err := d.PushAndInvoke(ctx, device.Serial, remoteTemp); err != nil {
		return outcome, err
	}

	if err := d.PollForCompletion(ctx, device.Serial, remoteTemp, opts); err != nil {
		return outcome, err
	}
	outcome.ReassemblyOK = true

	if opts.VerifyAfterReassembly {
		if err := d.VerifyOutputs(ctx, device.Serial, remoteTemp); err != nil {
			return outcome, err
		}
	}

	if err := d.Move(ctx, device.Serial, remoteTemp, target); err != nil {
		return outcome, err
	}
	outcome.MovedOK = true

	if opts.DeleteTempFolder {
		if _, err := d.Transport.Shell(ctx, device.Serial, "rm -rf "+transport.ShellQuote(remoteTemp)); err != nil {
			return outcome, err
		}
	}

	return outcome, nil
}

func (d *Driver) PushAndInvoke(ctx context.Context, serial, remoteTemp string) error {
	localScript, err := os.CreateTemp("", "unified-*.sh")
	if err != nil {
		return fmt.Errorf("%w: creating local script file: %v", xerrors.ErrIO, err)
	}
	defer os.Remove(localScript.Name())

	if _, err := localScript.WriteString(UnifiedScript()); err != nil {
		localScript.Close()
		return fmt.Errorf("%w: writing local script file: %v", xerrors.ErrIO, err)
	}
	if err := localScript.Close(); err != nil {
		return fmt.Errorf("%w: closing local script file: %v", xerrors.ErrIO, err)
	}

	remoteScript := path.Join(remoteTemp, scriptName)
	if err := d.Transport.Push(ctx, serial, localScript.Name(), remoteScript); err != nil {
		return err
	}

	// Normalize line endings in case the host wrote CRLF, then chmod
	// executable.
	if _, err := d.Transport.Shell(ctx, serial, fmt.Sprintf("sed -i 's/\\r$//' %s", transport.ShellQuote(remoteScript))); err != nil {
		return err
	}
	if _, err := d.Transport.Shell(ctx, serial, "chmod 755 "+transport.ShellQuote(remoteScript)); err != nil {
		return err
	}

	invoke := fmt.Sprintf("cd %s && nohup sh ./%s %s >/dev/null 2>&1 &", transport.ShellQuote(remoteTemp), scriptName, transport.ShellQuote(remoteTemp))
	if _, err := d.Transport.Shell(ctx, serial, invoke); err != nil {
		return err
	}
	return nil
}

func (d *Driver) PollForCompletion(ctx context.Context, serial, remoteTemp string, opts Options) error {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	marker := path.Join(remoteTemp, markerName)
	deadline := d.Clock.Now().Add(opts.ReassemblyTimeout)

	for {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: reassembly polling interrupted on %s", xerrors.ErrCancelled, serial)
		}

		if _, err := d.Transport.Stat(ctx, serial, marker); err == nil {
			return nil
		}

		running, err := d.isReassemblyRunning(ctx, serial)
		if err == nil && !running {
			d.Sleep(2 * time.Second)
			if _, err := d.Transport.Stat(ctx, serial, marker); err == nil {
				return nil
			}
			return fmt.Errorf("%w: reassembly process exited without writing marker on %s", xerrors.ErrTimeout, serial)
		}

		if d.Clock.Now().After(deadline) {
			return fmt.Errorf("%w: reassembly did not complete within %s on %s", xerrors.ErrTimeout, opts.ReassemblyTimeout, serial)
		}

		d.Sleep(opts.PollInterval)
	}
}

func (d *Driver) isReassemblyRunning(ctx context.Context, serial string) (bool, error) {
	lines, err := d.Transport.Shell(ctx, serial, "ps | grep unified.sh | grep -v grep")
	if err != nil {
		// `ps | grep` with no matches exits nonzero on most shells; treat
		// that as "not running" rather than propagating a transport error.
		return false, nil
	}
	return len(lines) > 0, nil
}

func (d *Driver) VerifyOutputs(ctx context.Context, serial, remoteTemp string) error {
	cmd := fmt.Sprintf(
		"find %s -type f ! -name %s ! -name %s ! -name '*.json'",
		transport.ShellQuote(remoteTemp), scriptName, markerName,
	)
	lines, err := d.Transport.Shell(ctx, serial, cmd)
	if err != nil {
		return err
	}
	nonEmpty := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty++
		}
	}
	// A reassembly run that produced neither reassembled files nor
	// extracted bundles means the script lied about success.
	dirCmd := fmt.Sprintf("find %s -maxdepth 1 -type d -name batch", transport.ShellQuote(remoteTemp))
	dirLines, err := d.Transport.Shell(ctx, serial, dirCmd)
	if err != nil {
		return err
	}
	if nonEmpty == 0 && len(dirLines) == 0 {
		return fmt.Errorf("%w: reassembly marker present but no output found on %s", xerrors.ErrProtocol, serial)
	}
	return nil
}

// Move implements the final-move contract: batch/ contents first, then
// top-level files excluding the script/marker/json sidecars, then
// top-level directories excluding batch and *_chunks.
func (d *Driver) Move(ctx context.Context, serial, remoteTemp, target string) error {
	q := transport.ShellQuote
	cmd := fmt.Sprintf(
		`mkdir -p %[1]s && `+
			`if [ -d %[2]s/batch ]; then cp -r %[2]s/batch/. %[1]s/; fi && `+
			`for f in %[2]s/*; do `+
			`[ -e "$f" ] || continue; `+
			`base=$(basename "$f"); `+
			`case "$base" in batch) continue;; esac; `+
			`case "$base" in *_chunks) continue;; esac; `+
			`if [ -f "$f" ]; then `+
			`case "$base" in %[3]s|%[4]s|*.json) continue;; esac; `+
			`mv "$f" %[1]s/; `+
			`elif [ -d "$f" ]; then cp -r "$f" %[1]s/; fi; `+
			`done`,
		q(target), q(remoteTemp), scriptName, markerName,
	)
	_, err := d.Transport.Shell(ctx, serial, cmd)
	return err
}
