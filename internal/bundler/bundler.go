// Package bundler bin-packs small files into compressed archives using
// First-Fit Decreasing, then writes each archive as a deflate zip whose
// entries preserve the file's source-relative path.
package bundler

import (
	"archive/zip"
	"compress/flate"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/adbtransfer/adbtransfer/internal/plan"
	"github.com/adbtransfer/adbtransfer/internal/xerrors"
)

// Pack partitions files into bundles using First-Fit Decreasing: files
// are sorted by size descending, and each is placed in the first bundle
// whose running total plus the file's size is strictly less than
// targetSize, or a new bundle if none fits. An exact fit is deliberately
// rejected so it doesn't win first-fit over a later bundle it fits more
// tightly into. It does no I/O, so it is directly testable against the
// partition invariant (spec S2/S3).
func Pack(files []plan.FileEntry, targetSize int64) []plan.Bundle {
	sorted := make([]plan.FileEntry, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Size > sorted[j].Size })

	var bundles []plan.Bundle
	var totals []int64

	for _, f := range sorted {
		placed := false
		for i := range bundles {
			if totals[i]+f.Size < targetSize {
				bundles[i].Files = append(bundles[i].Files, f)
				totals[i] += f.Size
				placed = true
				break
			}
		}
		if !placed {
			bundles = append(bundles, plan.Bundle{Files: []plan.FileEntry{f}})
			totals = append(totals, f.Size)
		}
	}

	for i := range bundles {
		if len(bundles) == 1 {
			bundles[i].Name = "bundle_batch.zip"
		} else {
			bundles[i].Name = fmt.Sprintf("bundle_batch_%03d.zip", i)
		}
	}
	return bundles
}

// Write archives bundle's files into destPath as a deflate zip at the
// fastest compression level, with entry names relative to sourceRoot
// using forward slashes.
func Write(bundle plan.Bundle, sourceRoot, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", xerrors.ErrIO, destPath, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestSpeed)
	})

	for _, f := range bundle.Files {
		relPath, err := filepath.Rel(sourceRoot, f.AbsPath)
		if err != nil {
			relPath = f.RelPath
		}
		entryName := filepath.ToSlash(relPath)

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   entryName,
			Method: zip.Deflate,
		})
		if err != nil {
			zw.Close()
			return fmt.Errorf("%w: creating entry %s: %v", xerrors.ErrIO, entryName, err)
		}

		if err := copyFileInto(w, f.AbsPath); err != nil {
			zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: finalizing %s: %v", xerrors.ErrIO, destPath, err)
	}
	return nil
}

func copyFileInto(w io.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", xerrors.ErrIO, path, err)
	}
	defer in.Close()

	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("%w: copying %s: %v", xerrors.ErrIO, path, err)
	}
	return nil
}
