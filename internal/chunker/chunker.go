// Package chunker splits large files into fixed-size chunks with a
// sidecar JSON manifest, reusing existing chunks on disk when their
// recorded size and content hash still match the source file.
package chunker

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/adbtransfer/adbtransfer/internal/plan"
	"github.com/adbtransfer/adbtransfer/internal/xerrors"
)

const metadataFilename = "chunk_metadata.json"

// manifestCacheTTL bounds how long a read manifest is trusted without
// re-reading chunk_metadata.json from disk, so external mutation between
// runs is still picked up eventually.
const manifestCacheTTL = 30 * time.Second

// Options configures one Prepare call.
type Options struct {
	// SourceRoot is the root of the tree being transferred; manifest
	// paths are recorded relative to it.
	SourceRoot string
	// ChunkSize is the nominal chunk size in bytes.
	ChunkSize int64
	// Persistent, when true, stores chunks next to the source file so
	// they survive across runs; when false, stores them under ScratchDir.
	Persistent bool
	// ScratchDir is used when Persistent is false.
	ScratchDir string
	// Strict, when true, rehashes on-disk chunks against the manifest
	// on reuse instead of trusting the file's size, full-file MD5 and the
	// on-disk chunk count alone.
	Strict bool
}

// Chunker produces ChunkManifests for large files, reusing on-disk chunks
// when they are still valid for the current file contents.
type Chunker struct {
	Log   *logrus.Logger
	cache *cache.Cache
}

func New(log *logrus.Logger) *Chunker {
	return &Chunker{
		Log:   log,
		cache: cache.New(manifestCacheTTL, 2*manifestCacheTTL),
	}
}

// Prepare ensures file is chunked under opts, returning its manifest. It
// reuses an existing, still-valid chunk directory when possible and
// otherwise rebuilds it from scratch, writing chunk_metadata.json last so
// its presence implies every chunk was written successfully.
func (c *Chunker) Prepare(file plan.FileEntry, opts Options) (plan.ChunkManifest, error) {
	relPath, err := filepath.Rel(opts.SourceRoot, file.AbsPath)
	if err != nil {
		relPath = filepath.Base(file.AbsPath)
	}
	relPath = filepath.ToSlash(relPath)

	stem := strings.TrimSuffix(filepath.Base(file.AbsPath), filepath.Ext(file.AbsPath))
	chunkDirName := stem + "_chunks"

	var chunkDir string
	if opts.Persistent {
		chunkDir = filepath.Join(filepath.Dir(file.AbsPath), chunkDirName)
	} else {
		chunkDir = filepath.Join(opts.ScratchDir, filepath.Dir(relPath), chunkDirName)
	}

	if manifest, ok, err := c.tryReuse(chunkDir, file, relPath, opts); err != nil {
		return plan.ChunkManifest{}, err
	} else if ok {
		return manifest, nil
	}

	manifest, err := c.build(chunkDir, file, relPath, opts)
	if err != nil {
		return plan.ChunkManifest{}, err
	}
	c.cache.Set(filepath.Join(chunkDir, metadataFilename), manifest, cache.DefaultExpiration)
	return manifest, nil
}

// tryReuse reads the manifest on disk (or from the in-process cache, to
// avoid re-parsing chunk_metadata.json on every Prepare call against an
// unchanged tree) and, if the file's size and full-content MD5 still
// match, returns it as reusable. The MD5 check always runs against the
// live file; the cache only saves the read+unmarshal of the metadata
// file itself, never the correctness-critical comparison.
func (c *Chunker) tryReuse(chunkDir string, file plan.FileEntry, relPath string, opts Options) (plan.ChunkManifest, bool, error) {
	metadataPath := filepath.Join(chunkDir, metadataFilename)

	var existing plan.ChunkManifest
	if cached, ok := c.cache.Get(metadataPath); ok {
		existing = cached.(plan.ChunkManifest)
	} else {
		data, err := os.ReadFile(metadataPath)
		if os.IsNotExist(err) {
			return plan.ChunkManifest{}, false, nil
		}
		if err != nil {
			return plan.ChunkManifest{}, false, fmt.Errorf("%w: reading %s: %v", xerrors.ErrIO, metadataPath, err)
		}

		if err := json.Unmarshal(data, &existing); err != nil {
			c.logf("discarding unparsable manifest %s: %v", metadataPath, err)
			if rmErr := os.RemoveAll(chunkDir); rmErr != nil {
				return plan.ChunkManifest{}, false, fmt.Errorf("%w: removing stale chunk dir: %v", xerrors.ErrIO, rmErr)
			}
			return plan.ChunkManifest{}, false, nil
		}
		c.cache.Set(metadataPath, existing, cache.DefaultExpiration)
	}

	if existing.OriginalSize != file.Size {
		return plan.ChunkManifest{}, false, c.removeAndMiss(chunkDir, metadataPath)
	}

	currentMD5, err := md5File(file.AbsPath)
	if err != nil {
		return plan.ChunkManifest{}, false, fmt.Errorf("%w: %v", xerrors.ErrIO, err)
	}
	if existing.OriginalMD5 != currentMD5 {
		return plan.ChunkManifest{}, false, c.removeAndMiss(chunkDir, metadataPath)
	}

	onDiskCount, err := countChunkFiles(chunkDir)
	if err != nil {
		return plan.ChunkManifest{}, false, fmt.Errorf("%w: %v", xerrors.ErrIO, err)
	}
	if onDiskCount != int(existing.NumChunks) {
		return plan.ChunkManifest{}, false, c.removeAndMiss(chunkDir, metadataPath)
	}

	if opts.Strict {
		if err := verifyChunkHashes(chunkDir, existing); err != nil {
			c.logf("strict reuse check failed for %s: %v", chunkDir, err)
			return plan.ChunkManifest{}, false, c.removeAndMiss(chunkDir, metadataPath)
		}
	}

	existing.ChunkFolder = remoteChunkFolder(relPath, chunkDirName(relPath))
	if opts.Persistent {
		existing.PersistentSource = chunkDir
	} else {
		existing.PersistentSource = ""
	}
	return existing, true, nil
}

func (c *Chunker) removeAndMiss(chunkDir, metadataPath string) error {
	c.cache.Delete(metadataPath)
	if err := os.RemoveAll(chunkDir); err != nil {
		return fmt.Errorf("%w: removing stale chunk dir %s: %v", xerrors.ErrIO, chunkDir, err)
	}
	return nil
}

func (c *Chunker) build(chunkDir string, file plan.FileEntry, relPath string, opts Options) (plan.ChunkManifest, error) {
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return plan.ChunkManifest{}, fmt.Errorf("%w: creating %s: %v", xerrors.ErrIO, chunkDir, err)
	}

	originalMD5, err := md5File(file.AbsPath)
	if err != nil {
		return plan.ChunkManifest{}, fmt.Errorf("%w: %v", xerrors.ErrIO, err)
	}

	src, err := os.Open(file.AbsPath)
	if err != nil {
		return plan.ChunkManifest{}, fmt.Errorf("%w: opening %s: %v", xerrors.ErrIO, file.AbsPath, err)
	}
	defer src.Close()

	numChunks := uint32((file.Size + opts.ChunkSize - 1) / opts.ChunkSize)
	if file.Size == 0 {
		numChunks = 0
	}

	manifest := plan.ChunkManifest{
		OriginalRelPath: relPath,
		OriginalSize:    file.Size,
		OriginalMD5:     originalMD5,
		ChunkSize:       opts.ChunkSize,
		NumChunks:       numChunks,
		ChunkFolder:     remoteChunkFolder(relPath, chunkDirName(relPath)),
		Chunks:          make([]plan.ChunkInfo, 0, numChunks),
	}
	if opts.Persistent {
		manifest.PersistentSource = chunkDir
	}

	buf := make([]byte, opts.ChunkSize)
	for i := uint32(0); i < numChunks; i++ {
		n, readErr := io.ReadFull(src, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			return plan.ChunkManifest{}, fmt.Errorf("%w: reading chunk %d of %s: %v", xerrors.ErrIO, i, file.AbsPath, readErr)
		}

		chunkData := buf[:n]
		sum := md5.Sum(chunkData)
		filename := fmt.Sprintf("chunk_%04d.bin", i)
		chunkPath := filepath.Join(chunkDir, filename)
		if err := os.WriteFile(chunkPath, chunkData, 0o644); err != nil {
			return plan.ChunkManifest{}, fmt.Errorf("%w: writing %s: %v", xerrors.ErrIO, chunkPath, err)
		}

		manifest.Chunks = append(manifest.Chunks, plan.ChunkInfo{
			Index:    i,
			Filename: filename,
			Size:     int64(n),
			MD5:      hex.EncodeToString(sum[:]),
		})

		c.logf("chunked %s: %d/%d", file.RelPath, i+1, numChunks)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return plan.ChunkManifest{}, fmt.Errorf("%w: marshaling manifest: %v", xerrors.ErrIO, err)
	}
	metadataPath := filepath.Join(chunkDir, metadataFilename)
	if err := os.WriteFile(metadataPath, data, 0o644); err != nil {
		return plan.ChunkManifest{}, fmt.Errorf("%w: writing %s: %v", xerrors.ErrIO, metadataPath, err)
	}

	return manifest, nil
}

func chunkDirName(relPath string) string {
	base := filepath.Base(relPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_chunks"
}

// remoteChunkFolder computes the manifest's chunk_folder field: the
// source-relative parent directory plus the chunk directory name, always
// forward-slashed for the remote side.
func remoteChunkFolder(relPath, dirName string) string {
	parent := filepath.ToSlash(filepath.Dir(relPath))
	if parent == "." {
		return dirName
	}
	return parent + "/" + dirName
}

func countChunkFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "chunk_") && strings.HasSuffix(e.Name(), ".bin") {
			count++
		}
	}
	return count, nil
}

func verifyChunkHashes(dir string, manifest plan.ChunkManifest) error {
	for _, ci := range manifest.Chunks {
		sum, err := md5File(filepath.Join(dir, ci.Filename))
		if err != nil {
			return err
		}
		if sum != ci.MD5 {
			return fmt.Errorf("chunk %s hash mismatch", ci.Filename)
		}
	}
	return nil
}

func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *Chunker) logf(format string, args ...interface{}) {
	if c.Log != nil {
		c.Log.Debugf(format, args...)
	}
}
