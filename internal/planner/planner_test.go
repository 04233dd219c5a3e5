package planner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestBuild_ChunksLargeAndBundlesSmall(t *testing.T) {
	src := t.TempDir()
	scratch := t.TempDir()

	write(t, filepath.Join(src, "big.bin"), 25)
	write(t, filepath.Join(src, "small.txt"), 5)

	p := New(nil)
	tp, err := p.Build(Options{
		SourceRoot:         src,
		ScratchDir:         scratch,
		ChunkSize:          10,
		SmallFileThreshold: 10,
		BundleSize:         1024,
		RemoteTempDir:      "/sdcard/transfer_temp",
		SJFScheduling:      true,
	})
	require.NoError(t, err)

	require.NotEmpty(t, tp.RunID)
	require.Len(t, tp.Manifests, 1)
	assert.Equal(t, "big.bin", tp.Manifests[0].OriginalRelPath)
	assert.Equal(t, uint32(3), tp.Manifests[0].NumChunks)

	require.Len(t, tp.Bundles, 1)
	require.Len(t, tp.Bundles[0].Files, 1)
	assert.Equal(t, "small.txt", tp.Bundles[0].Files[0].RelPath)

	_, err = os.Stat(filepath.Join(scratch, tp.Bundles[0].Name))
	require.NoError(t, err)
}

func TestBuild_ReturnsEmptyPlanForEmptyTree(t *testing.T) {
	src := t.TempDir()
	scratch := t.TempDir()

	p := New(nil)
	tp, err := p.Build(Options{
		SourceRoot:         src,
		ScratchDir:         scratch,
		ChunkSize:          10,
		SmallFileThreshold: 10,
		BundleSize:         1024,
		RemoteTempDir:      "/sdcard/transfer_temp",
	})
	require.NoError(t, err)
	assert.Empty(t, tp.Manifests)
	assert.Empty(t, tp.Bundles)
}
