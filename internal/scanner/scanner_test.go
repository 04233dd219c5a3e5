package scanner_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adbtransfer/adbtransfer/internal/plan"
	"github.com/adbtransfer/adbtransfer/internal/scanner"
)

func TestScan_SkipsChunkDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), []byte("hello"), 0o644))

	chunkDir := filepath.Join(dir, "a_chunks")
	require.NoError(t, os.MkdirAll(chunkDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(chunkDir, "chunk_0000.bin"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(chunkDir, "chunk_metadata.json"), []byte("{}"), 0o644))

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.txt"), []byte("world"), 0o644))

	entries, err := scanner.Scan(dir)
	require.NoError(t, err)

	var relPaths []string
	for _, e := range entries {
		relPaths = append(relPaths, e.RelPath)
	}
	assert.ElementsMatch(t, []string{"a.bin", "sub/b.txt"}, relPaths)
}

func TestClassify_SplitsByThreshold(t *testing.T) {
	entries := []plan.FileEntry{
		{RelPath: "small", Size: 5},
		{RelPath: "exact", Size: 10},
		{RelPath: "large", Size: 11},
	}

	large, small := scanner.Classify(entries, 10)

	require.Len(t, large, 1)
	assert.Equal(t, "large", large[0].RelPath)

	require.Len(t, small, 2)
	assert.Equal(t, "small", small[0].RelPath)
	assert.Equal(t, "exact", small[1].RelPath)
}

func TestScheduleSJF_SortsAscendingStable(t *testing.T) {
	entries := []plan.FileEntry{
		{RelPath: "c", Size: 30},
		{RelPath: "a", Size: 10},
		{RelPath: "b1", Size: 20},
		{RelPath: "b2", Size: 20},
	}

	sorted := scanner.ScheduleSJF(entries)

	var relPaths []string
	for _, e := range sorted {
		relPaths = append(relPaths, e.RelPath)
	}
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, relPaths)

	// Input must be left untouched.
	assert.Equal(t, "c", entries[0].RelPath)
}
