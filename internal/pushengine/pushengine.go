// Package pushengine drives one device's transfer: it turns a TransferPlan
// into a flat list of host->device file pushes, skips what resume proves is
// already there, fans the rest out across a bounded worker pool, retries
// failures, verifies remote sizes, and cleans up scratch chunk files.
package pushengine

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/adbtransfer/adbtransfer/internal/plan"
	"github.com/adbtransfer/adbtransfer/internal/transport"
	"github.com/adbtransfer/adbtransfer/internal/xerrors"
)

// Kind distinguishes the three flavors of transfer item, mostly so log
// lines and the end-of-run summary can say what kind of file failed.
type Kind int

const (
	KindChunk Kind = iota
	KindMetadata
	KindBundle
)

func (k Kind) String() string {
	switch k {
	case KindMetadata:
		return "metadata"
	case KindBundle:
		return "bundle"
	default:
		return "chunk"
	}
}

// Item is one host file destined for one remote path.
type Item struct {
	LocalPath  string
	RemotePath string
	Size       int64
	Kind       Kind
}

// Options configures one device's Push call.
type Options struct {
	Workers           int
	Resume            bool
	VerifySizes       bool
	RetryFailedChunks bool
	MaxRetries        int
	AggressiveCleanup bool
	// Progress is invoked every 10 completed transfers during the
	// worker-pool pass, and once more with the final count.
	Progress func(completed, total int)
}

// Result is one device's outcome, detailed enough to populate the
// end-of-run summary.
type Result struct {
	Device     string
	Total      int
	Skipped    int
	Pushed     int
	Retried    int
	Failed     []string // remote paths still failing after retries exhausted
	Verified   bool
	MissingAfterVerify []string
}

type Engine struct {
	Transport transport.Transport
	Log       *logrus.Logger
}

func New(t transport.Transport, log *logrus.Logger) *Engine {
	return &Engine{Transport: t, Log: log}
}

// Push runs preparation -> resume-filter -> worker-pool transfer -> retry
// -> verify -> cleanup for one device, in that order.
func (e *Engine) Push(ctx context.Context, device transport.Device, p plan.TransferPlan, opts Options) (*Result, error) {
	result := &Result{Device: device.Serial}

	items, err := BuildItems(p)
	if err != nil {
		return result, err
	}
	result.Total = len(items)

	if err := e.prepareRemoteDirs(ctx, device.Serial, p); err != nil {
		return result, err
	}

	pending, skipped := e.filterResumable(ctx, device.Serial, items, opts.Resume)
	result.Skipped = skipped

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	failed := e.transferAll(ctx, device.Serial, pending, workers, opts.Progress)
	result.Pushed = len(pending) - len(failed)

	if opts.RetryFailedChunks && len(failed) > 0 {
		result.Retried = len(failed)
		failed = e.retrySequential(ctx, device.Serial, failed, opts.MaxRetries)
	}
	if len(failed) > 0 {
		for _, it := range failed {
			result.Failed = append(result.Failed, it.RemotePath)
		}
		return result, fmt.Errorf("%w: %d item(s) failed after retries on %s", xerrors.ErrTransport, len(failed), device.Serial)
	}

	if opts.VerifySizes {
		missing, err := e.verify(ctx, device.Serial, items)
		if err != nil {
			return result, err
		}
		if len(missing) > 0 {
			e.retrySequential(ctx, device.Serial, missing, 1)
			missing, err = e.verify(ctx, device.Serial, missing)
			if err != nil {
				return result, err
			}
			if len(missing) > 0 {
				for _, it := range missing {
					result.MissingAfterVerify = append(result.MissingAfterVerify, it.RemotePath)
				}
				return result, fmt.Errorf("%w: %d item(s) still missing on %s after re-verification", xerrors.ErrFatal, len(missing), device.Serial)
			}
		}
	}
	result.Verified = true

	if err := cleanup(p, opts.AggressiveCleanup); err != nil {
		return result, err
	}

	return result, nil
}

// BuildItems flattens a TransferPlan into the items the push engine
// transfers: every chunk, every chunk manifest, and every bundle zip.
func BuildItems(p plan.TransferPlan) ([]Item, error) {
	var items []Item

	add := func(local, remote string, kind Kind) error {
		info, err := os.Stat(local)
		if err != nil {
			return fmt.Errorf("%w: stat %s: %v", xerrors.ErrIO, local, err)
		}
		items = append(items, Item{LocalPath: local, RemotePath: remote, Size: info.Size(), Kind: kind})
		return nil
	}

	for _, m := range p.Manifests {
		localDir := localChunkDir(m, p.ScratchDir)
		remoteDir := path.Join(p.RemoteTemp, m.ChunkFolder)
		for _, c := range m.Chunks {
			if err := add(filepath.Join(localDir, c.Filename), path.Join(remoteDir, c.Filename), KindChunk); err != nil {
				return nil, err
			}
		}
		if err := add(filepath.Join(localDir, "chunk_metadata.json"), path.Join(remoteDir, "chunk_metadata.json"), KindMetadata); err != nil {
			return nil, err
		}
	}

	for _, b := range p.Bundles {
		if err := add(filepath.Join(p.ScratchDir, b.Name), path.Join(p.RemoteTemp, b.Name), KindBundle); err != nil {
			return nil, err
		}
	}

	return items, nil
}

// localChunkDir returns where a manifest's chunk files live on the host:
// next to the source file when persistent, otherwise under the run's
// scratch directory, mirroring the layout the Chunker built it with.
func localChunkDir(m plan.ChunkManifest, scratchDir string) string {
	if m.PersistentSource != "" {
		return m.PersistentSource
	}
	return filepath.Join(scratchDir, filepath.FromSlash(m.ChunkFolder))
}

func (e *Engine) prepareRemoteDirs(ctx context.Context, serial string, p plan.TransferPlan) error {
	dirs := map[string]bool{p.RemoteTemp: true}
	for _, m := range p.Manifests {
		dirs[path.Join(p.RemoteTemp, m.ChunkFolder)] = true
	}
	for dir := range dirs {
		if _, err := e.Transport.Shell(ctx, serial, "mkdir -p "+transport.ShellQuote(dir)); err != nil {
			return err
		}
	}
	return nil
}

// filterResumable probes the remote size of each item and drops it from
// the pending list when it already matches, except metadata files which
// are always retransferred since they are tiny and authoritative.
func (e *Engine) filterResumable(ctx context.Context, serial string, items []Item, resume bool) (pending []Item, skipped int) {
	if !resume {
		return items, 0
	}
	for _, it := range items {
		if it.Kind != KindMetadata {
			if remoteSize, err := e.Transport.Stat(ctx, serial, it.RemotePath); err == nil && remoteSize == it.Size {
				skipped++
				continue
			}
		}
		pending = append(pending, it)
	}
	return pending, skipped
}

// transferAll pushes items concurrently, bounded by workers concurrent
// pushes, and returns the items that failed. It never aborts the group on
// an individual failure: partial failure is first-class here, the same as
// at the device level.
func (e *Engine) transferAll(ctx context.Context, serial string, items []Item, workers int, progress func(completed, total int)) []Item {
	sem := semaphore.NewWeighted(int64(workers))
	var g errgroup.Group
	var mu sync.Mutex
	var failed []Item
	var completed int32
	total := len(items)

	for _, item := range items {
		item := item
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			failed = append(failed, item)
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			defer sem.Release(1)

			if ctx.Err() != nil {
				mu.Lock()
				failed = append(failed, item)
				mu.Unlock()
				return nil
			}

			if err := e.Transport.Push(ctx, serial, item.LocalPath, item.RemotePath); err != nil {
				e.logf(logrus.Fields{"serial": serial, "remote": item.RemotePath}, "push failed: %v", err)
				mu.Lock()
				failed = append(failed, item)
				mu.Unlock()
			}

			n := atomic.AddInt32(&completed, 1)
			if progress != nil && n%10 == 0 {
				progress(int(n), total)
			}
			return nil
		})
	}
	g.Wait()

	if progress != nil {
		progress(int(atomic.LoadInt32(&completed)), total)
	}
	return failed
}

// retrySequential retries each item in order, on the same device, up to
// maxRetries times, stopping early if the context is cancelled.
func (e *Engine) retrySequential(ctx context.Context, serial string, items []Item, maxRetries int) []Item {
	pending := items
	for attempt := 0; attempt < maxRetries && len(pending) > 0; attempt++ {
		var stillFailing []Item
		for _, item := range pending {
			if ctx.Err() != nil {
				stillFailing = append(stillFailing, item)
				continue
			}
			if err := e.Transport.Push(ctx, serial, item.LocalPath, item.RemotePath); err != nil {
				e.logf(logrus.Fields{"serial": serial, "remote": item.RemotePath, "attempt": attempt + 1}, "retry failed: %v", err)
				stillFailing = append(stillFailing, item)
			}
		}
		pending = stillFailing
	}
	return pending
}

// verify confirms each item's remote size equals its declared size; an
// absent remote file counts as a mismatch.
func (e *Engine) verify(ctx context.Context, serial string, items []Item) ([]Item, error) {
	var missing []Item
	for _, it := range items {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: verification interrupted", xerrors.ErrCancelled)
		}
		remoteSize, err := e.Transport.Stat(ctx, serial, it.RemotePath)
		if err != nil || remoteSize != it.Size {
			missing = append(missing, it)
		}
	}
	return missing, nil
}

// cleanup removes local scratch chunk files for non-persistent manifests
// once verification succeeds. Persistent chunks and every metadata file
// are never deleted by the engine.
func cleanup(p plan.TransferPlan, aggressive bool) error {
	if !aggressive {
		return nil
	}
	for _, m := range p.Manifests {
		if m.PersistentSource != "" {
			continue
		}
		dir := localChunkDir(m, p.ScratchDir)
		for _, c := range m.Chunks {
			if err := os.Remove(filepath.Join(dir, c.Filename)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("%w: removing scratch chunk %s: %v", xerrors.ErrIO, c.Filename, err)
			}
		}
	}
	return nil
}

func (e *Engine) logf(fields logrus.Fields, format string, args ...interface{}) {
	if e.Log != nil {
		e.Log.WithFields(fields).Debugf(format, args...)
	}
}
