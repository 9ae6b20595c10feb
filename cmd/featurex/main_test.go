package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/framefeatures/internal/config"
	"github.com/banshee-data/framefeatures/internal/feature"
	"github.com/banshee-data/framefeatures/internal/features"
	"github.com/banshee-data/framefeatures/internal/storage/sqlite"
	"github.com/banshee-data/framefeatures/internal/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "featurex dev"), out)
}

func TestOpsCmd(t *testing.T) {
	out, err := execute(t, "ops")
	require.NoError(t, err)
	assert.Equal(t, features.NewRegistry().Names(), strings.Fields(out))
}

func TestRootCmd_BadConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.json"), "ops")
	assert.ErrorContains(t, err, "failed to stat")
}

func TestExtractCmd_RejectsBadFlags(t *testing.T) {
	_, err := execute(t, "extract", "--ops", "blur", "video.mp4")
	assert.ErrorIs(t, err, feature.ErrConfig)

	_, err = execute(t, "extract", "--width", "32", "video.mp4")
	assert.ErrorContains(t, err, "set together")
}

func TestApplyFlags(t *testing.T) {
	cmd := newExtractCmd()
	require.NoError(t, cmd.Flags().Parse([]string{
		"--batch-size", "4", "--stride", "1", "--parallel", "--ops", "grayscale,pixel_stats", "--parquet", "out.parquet",
	}))

	cfg := config.EmptyPipelineConfig()
	cfg.Workers = new(int)
	*cfg.Workers = 3
	require.NoError(t, applyFlags(cmd, cfg))

	assert.Equal(t, 4, cfg.GetBatchSize())
	assert.Equal(t, 1, cfg.GetStride())
	assert.True(t, cfg.GetParallel())
	assert.Equal(t, 3, cfg.GetWorkers(), "unset flags keep config values")
	assert.Equal(t, -1, cfg.GetEndFrame())
	assert.Equal(t, []string{"grayscale", "pixel_stats"}, cfg.GetOperations())
	assert.Equal(t, "out.parquet", cfg.GetParquetPath())
	assert.Nil(t, cfg.SQLitePath)
}

func TestRunExtract_WithSinks(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "features.db")
	pqPath := filepath.Join(dir, "features.parquet")

	cfg := config.EmptyPipelineConfig()
	cfg.Operations = []string{"grayscale", "pixel_stats", "batch_length"}
	cfg.Parallel = new(bool)
	*cfg.Parallel = true
	cfg.SQLitePath = &dbPath
	cfg.ParquetPath = &pqPath
	require.NoError(t, cfg.Validate())

	batches := testutil.Batches(5, 2, 8, 8, 3)
	sum, err := runExtract(context.Background(), cfg, batches)
	require.NoError(t, err)

	assert.Equal(t, []int{5, 2, 3}, sum.Shape)
	assert.Equal(t, map[string][]int{
		"grayscale":    {8, 8},
		"pixel_stats":  {4},
		"batch_length": {},
	}, sum.FeatureShapes)
	assert.Equal(t, 10, sum.Run.Frames)
	assert.Equal(t, int64(10*3), sum.ParquetRows)

	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sum.Run.RunID, runs[0].RunID)
	assert.Equal(t, sqlite.StatusComplete, runs[0].Status)

	raw, err := json.Marshal(sum)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"parquet_rows":30`)
}

func TestRunExtract_RaggedBatches(t *testing.T) {
	cfg := config.EmptyPipelineConfig()

	sum, err := runExtract(context.Background(), cfg, testutil.Ragged(4, 4, 3, 2, 2, 1))
	require.NoError(t, err)
	assert.Nil(t, sum.Shape)
	assert.Equal(t, 5, sum.Run.Frames)
	assert.Zero(t, sum.ParquetRows)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestCloseInto(t *testing.T) {
	t.Parallel()

	closeErr := errors.New("close failed")
	runErr := errors.New("run failed")

	var err error
	closeInto(&err, closerFunc(func() error { return closeErr }))
	assert.Equal(t, closeErr, err, "close error surfaces when the run succeeded")

	err = runErr
	closeInto(&err, closerFunc(func() error { return closeErr }))
	assert.Equal(t, runErr, err, "earlier error wins")

	err = nil
	closed := false
	closeInto(&err, closerFunc(func() error { closed = true; return nil }))
	assert.NoError(t, err)
	assert.True(t, closed)
}

func TestRunExtract_ReleasesSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "features.db")
	cfg := config.EmptyPipelineConfig()
	cfg.SQLitePath = &dbPath

	_, err := runExtract(context.Background(), cfg, testutil.Batches(2, 2, 4, 4, 1))
	require.NoError(t, err)

	// The store was closed on return, so the file can be reopened and
	// written to without waiting on a lock.
	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.DeleteRun(context.Background(), "missing"))
	require.NoError(t, store.Close())
}
