package coordinator

import (
	"context"
	"sync"

	"github.com/adbtransfer/adbtransfer/internal/transport"
	"github.com/adbtransfer/adbtransfer/internal/util"
)

// variantBPhases is the legacy interactive protocol's fixed phase
// sequence. open_termux/first_auth/storage_permission/confirm_permission
// are opaque UI-driven steps (the modal dialog itself is out of scope);
// the remaining phases reuse the same on-device operations Variant A
// uses, so both variants drive the identical reassembly contract.
var variantBPhases = []string{
	"open_termux", "first_auth", "storage_permission", "confirm_permission",
	"exec_command", "progress_wait", "final_move", "completion",
}

var phaseState = map[string]string{
	"open_termux":         "OPEN_TERMUX",
	"first_auth":          "AUTH",
	"storage_permission":  "PERM",
	"confirm_permission":  "PERM",
	"exec_command":        "EXEC",
	"progress_wait":       "WAITING",
	"final_move":          "MOVING",
	"completion":          "DONE",
}

type deviceState struct {
	mu     sync.Mutex
	state  string
	failed bool
	errMsg string
}

func (s *deviceState) fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return
	}
	s.failed = true
	s.errMsg = msg
	s.state = "FAILED"
}

func (s *deviceState) advance(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return
	}
	s.state = phaseState[phase]
}

func (s *deviceState) snapshot() (state string, failed bool, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.failed, s.errMsg
}

// runVariantB lock-steps every device through variantBPhases using two
// barriers per phase (ready, then complete), satisfying the property that
// no device performs phase-(k+1) work before every device — and the
// coordinator — has finished phase-k. At confirm_permission the
// coordinator shows one prompt covering every device; declining marks
// every device failed and force-releases every remaining barrier so no
// goroutine is left waiting on a phase that will never happen.
func (c *Coordinator) runVariantB(ctx context.Context, devices []transport.Device, opts Options, summary *Summary) {
	parties := len(devices) + 1 // +1 for the coordinator itself

	ready := make(map[string]*Barrier, len(variantBPhases))
	complete := make(map[string]*Barrier, len(variantBPhases))
	for _, phase := range variantBPhases {
		ready[phase] = NewBarrier(parties)
		complete[phase] = NewBarrier(parties)
	}

	states := make(map[string]*deviceState, len(devices))
	for _, dev := range devices {
		states[dev.Serial] = &deviceState{state: "IDLE"}
	}

	var aborted util.AtomicBool

	var wg sync.WaitGroup
	for _, dev := range devices {
		dev := dev
		st := states[dev.Serial]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, phase := range variantBPhases {
				if !ready[phase].Wait() {
					st.fail("barrier released before phase could start")
					return
				}

				if !st.failed && !aborted.Value() {
					if err := c.runVariantBPhase(ctx, dev, phase, opts); err != nil {
						st.fail(err.Error())
					} else {
						st.advance(phase)
					}
				}

				if !complete[phase].Wait() {
					st.fail("barrier released before phase could finish")
					return
				}
			}
		}()
	}

	for _, phase := range variantBPhases {
		ready[phase].Wait()

		if phase == "confirm_permission" && opts.PromptFunc != nil && !aborted.Value() {
			if !opts.PromptFunc(phase, deviceSerials(devices)) {
				aborted.CompareAndSwap(false, true)
			}
		}

		complete[phase].Wait()

		if aborted.Value() {
			releaseAll(ready, complete)
			break
		}
	}

	wg.Wait()

	for _, dev := range devices {
		state, failed, errMsg := states[dev.Serial].snapshot()
		ds := summary.Devices[dev.Serial]
		ds.State = state
		ds.ReassemblyOK = state == "DONE" && !failed
		if failed {
			ds.ReassemblyErr = errMsg
		}
	}
}

func (c *Coordinator) runVariantBPhase(ctx context.Context, dev transport.Device, phase string, opts Options) error {
	switch phase {
	case "open_termux", "first_auth", "storage_permission", "confirm_permission":
		return nil
	case "exec_command":
		return c.Driver.PushAndInvoke(ctx, dev.Serial, opts.RemoteTemp)
	case "progress_wait":
		return c.Driver.PollForCompletion(ctx, dev.Serial, opts.RemoteTemp, opts.Driver)
	case "final_move":
		if opts.Driver.VerifyAfterReassembly {
			if err := c.Driver.VerifyOutputs(ctx, dev.Serial, opts.RemoteTemp); err != nil {
				return err
			}
		}
		return c.Driver.Move(ctx, dev.Serial, opts.RemoteTemp, opts.TargetDir)
	default:
		return nil
	}
}

func releaseAll(barrierMaps ...map[string]*Barrier) {
	for _, m := range barrierMaps {
		for _, b := range m {
			b.Release()
		}
	}
}

func deviceSerials(devices []transport.Device) []string {
	out := make([]string, len(devices))
	for i, d := range devices {
		out[i] = d.Serial
	}
	return out
}
