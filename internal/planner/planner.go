// Package planner turns a source tree plus a config.Config into a frozen
// plan.TransferPlan: scan, classify, chunk every large file, bundle every
// small file, and write the bundle archives to the run's scratch
// directory, exactly the preparation phase spec.md describes as a single
// step upstream of any device ever being touched.
package planner

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/adbtransfer/adbtransfer/internal/bundler"
	"github.com/adbtransfer/adbtransfer/internal/chunker"
	"github.com/adbtransfer/adbtransfer/internal/config"
	"github.com/adbtransfer/adbtransfer/internal/plan"
	"github.com/adbtransfer/adbtransfer/internal/scanner"
	"github.com/adbtransfer/adbtransfer/internal/xerrors"
)

// Options configures one Build call; most fields mirror config.Config
// directly so the CLI can pass its parsed flags straight through.
type Options struct {
	SourceRoot         string
	ScratchDir         string
	ChunkSize          int64
	SmallFileThreshold int64
	BundleSize         int64
	RemoteTempDir      string
	SJFScheduling      bool
	PersistentChunks   bool
	StrictReuse        bool
}

// FromConfig derives planner Options from a config.Config for the given
// source and scratch directories. PersistentChunks has no config knob: it
// is always true, so a file's *_chunks/ directory is written next to the
// source file and kept on disk, where a later run over the same source
// tree can detect and reuse unchanged chunks; unlike bundles, it is never
// treated as transient scratch.
func FromConfig(cfg config.Config, sourceRoot, scratchDir string) Options {
	return Options{
		SourceRoot:         sourceRoot,
		ScratchDir:         scratchDir,
		ChunkSize:          cfg.ChunkSize,
		SmallFileThreshold: cfg.SmallFileThreshold,
		BundleSize:         cfg.BundleSize,
		RemoteTempDir:      cfg.RemoteTempDir,
		SJFScheduling:      cfg.SJFScheduling,
		PersistentChunks:   true,
		StrictReuse:        cfg.StrictReuse,
	}
}

// Planner builds a TransferPlan for one run.
type Planner struct {
	Chunker *chunker.Chunker
	Log     *logrus.Logger
}

func New(log *logrus.Logger) *Planner {
	return &Planner{Chunker: chunker.New(log), Log: log}
}

// Build scans opts.SourceRoot, chunks every large file, bundles every
// small file (SJF-ordered first if requested), writes the bundle
// archives under opts.ScratchDir, and returns the resulting TransferPlan
// tagged with a fresh run ID.
func (p *Planner) Build(opts Options) (plan.TransferPlan, error) {
	entries, err := scanner.Scan(opts.SourceRoot)
	if err != nil {
		return plan.TransferPlan{}, err
	}

	large, small := scanner.Classify(entries, opts.SmallFileThreshold)
	if opts.SJFScheduling {
		large = scanner.ScheduleSJF(large)
		small = scanner.ScheduleSJF(small)
	}

	manifests := make([]plan.ChunkManifest, 0, len(large))
	for _, f := range large {
		m, err := p.Chunker.Prepare(f, chunker.Options{
			SourceRoot: opts.SourceRoot,
			ChunkSize:  opts.ChunkSize,
			Persistent: opts.PersistentChunks,
			ScratchDir: opts.ScratchDir,
			Strict:     opts.StrictReuse,
		})
		if err != nil {
			return plan.TransferPlan{}, fmt.Errorf("chunking %s: %w", f.RelPath, err)
		}
		manifests = append(manifests, m)
	}

	bundles := bundler.Pack(small, opts.BundleSize)
	for _, b := range bundles {
		dest := filepath.Join(opts.ScratchDir, b.Name)
		if err := bundler.Write(b, opts.SourceRoot, dest); err != nil {
			return plan.TransferPlan{}, fmt.Errorf("%w: writing bundle %s: %v", xerrors.ErrIO, b.Name, err)
		}
	}

	return plan.TransferPlan{
		RunID:      uuid.NewString(),
		SourceRoot: opts.SourceRoot,
		Manifests:  manifests,
		Bundles:    bundles,
		ScratchDir: opts.ScratchDir,
		RemoteTemp: opts.RemoteTempDir,
	}, nil
}
