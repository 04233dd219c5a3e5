// Package coordinator advances one or more devices from a finished push
// through on-device reassembly. Variant A drives every device
// independently and concurrently; Variant B is the legacy interactive
// protocol that lock-steps every device through a shared phase sequence
// using barrier synchronization.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adbtransfer/adbtransfer/internal/driver"
	"github.com/adbtransfer/adbtransfer/internal/plan"
	"github.com/adbtransfer/adbtransfer/internal/pushengine"
	"github.com/adbtransfer/adbtransfer/internal/transport"
	"github.com/adbtransfer/adbtransfer/internal/util"
)

// DeviceSummary is one device's outcome for the end-of-run report.
type DeviceSummary struct {
	Serial        string
	PushOK        bool
	PushErr       string
	ReassemblyOK  bool
	ReassemblyErr string
	// State is the terminal Variant B state machine state; empty for
	// Variant A runs, which don't model one.
	State string
}

// Summary collects every device's outcome for one run. One device failing
// never prevents another device's entry from being populated.
type Summary struct {
	Devices map[string]*DeviceSummary
	// PushDuration and ReassemblyDuration are wall-clock time for each
	// phase across every device, for the CLI's per-phase duration
	// breakdown. ReassemblyDuration is zero for a PushOnly run.
	PushDuration       time.Duration
	ReassemblyDuration time.Duration
}

// PromptFunc is the UI boundary for Variant B's confirm_permission phase:
// it is shown once per run, covering every device, and its return value
// decides whether the run proceeds or every device is marked failed.
type PromptFunc func(phase string, devices []string) (proceed bool)

// Options configures one coordinator run.
type Options struct {
	Push         pushengine.Options
	Driver       driver.Options
	RemoteTemp   string
	TargetDir    string
	UseShellMode bool // true selects Variant A, false selects Variant B
	// PushOnly stops after the push phase, leaving reassembly for a later
	// run (the supplemented transfer_only mode).
	PushOnly   bool
	PromptFunc PromptFunc
}

type Coordinator struct {
	Push   *pushengine.Engine
	Driver *driver.Driver
	Log    *logrus.Logger
}

func New(push *pushengine.Engine, drv *driver.Driver, log *logrus.Logger) *Coordinator {
	return &Coordinator{Push: push, Driver: drv, Log: log}
}

// Run pushes to every device, then — unless PushOnly is set — advances
// every successfully pushed device through reassembly. Devices that fail
// to push are reported but never block their peers.
func (c *Coordinator) Run(ctx context.Context, devices []transport.Device, p plan.TransferPlan, opts Options) (*Summary, error) {
	summary := &Summary{Devices: make(map[string]*DeviceSummary, len(devices))}
	for _, dev := range devices {
		summary.Devices[dev.Serial] = &DeviceSummary{Serial: dev.Serial}
	}

	pushStart := time.Now()
	pushedOK := c.runPushPhase(ctx, devices, p, opts, summary)
	summary.PushDuration = time.Since(pushStart)

	if opts.PushOnly || len(pushedOK) == 0 {
		return summary, nil
	}

	reassemblyStart := time.Now()
	if opts.UseShellMode {
		c.runVariantA(ctx, pushedOK, opts, summary)
	} else {
		c.runVariantB(ctx, pushedOK, opts, summary)
	}
	summary.ReassemblyDuration = time.Since(reassemblyStart)

	return summary, nil
}

func (c *Coordinator) runPushPhase(ctx context.Context, devices []transport.Device, p plan.TransferPlan, opts Options, summary *Summary) []transport.Device {
	tracker := util.NewProcessTracker()
	var mu sync.Mutex
	var pushedOK []transport.Device

	for _, dev := range devices {
		dev := dev
		_, err := tracker.Go(dev.Serial, func(key string, stop <-chan struct{}) {
			_, pushErr := c.Push.Push(ctx, dev, p, opts.Push)
			ds := summary.Devices[key]
			mu.Lock()
			ds.PushOK = pushErr == nil
			if pushErr != nil {
				ds.PushErr = pushErr.Error()
			} else {
				pushedOK = append(pushedOK, dev)
			}
			mu.Unlock()
		})
		if err != nil {
			ds := summary.Devices[dev.Serial]
			ds.PushErr = err.Error()
		}
	}

	tracker.Wait()
	tracker.Shutdown()
	return pushedOK
}

// runVariantA fans out one independent Driver.Run per device. Devices
// never wait on each other; one device's reassembly timing out or
// erroring has no effect on its peers.
func (c *Coordinator) runVariantA(ctx context.Context, devices []transport.Device, opts Options, summary *Summary) {
	tracker := util.NewProcessTracker()
	for _, dev := range devices {
		dev := dev
		tracker.Go(dev.Serial, func(key string, stop <-chan struct{}) {
			_, err := c.Driver.Run(ctx, dev, opts.RemoteTemp, opts.TargetDir, opts.Driver)
			ds := summary.Devices[key]
			ds.ReassemblyOK = err == nil
			if err != nil {
				ds.ReassemblyErr = err.Error()
			}
		})
	}
	tracker.Wait()
	tracker.Shutdown()
}
