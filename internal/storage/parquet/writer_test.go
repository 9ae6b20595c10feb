package parquet

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/banshee-data/framefeatures/internal/feature"
	"github.com/banshee-data/framefeatures/internal/features"
	"github.com/banshee-data/framefeatures/internal/pipeline"
	"github.com/banshee-data/framefeatures/internal/testutil"
)

func readRows(t *testing.T, path string) []Row {
	t.Helper()
	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(Row), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	rows := make([]Row, pr.GetNumRows())
	require.NoError(t, pr.Read(&rows))
	return rows
}

func TestWriter_PipelineExport(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "features.parquet")
	w, err := Create(path)
	require.NoError(t, err)

	nop := zerolog.Nop()
	e, err := pipeline.New(pipeline.Options{
		Data:     testutil.Batches(2, 3, 4, 4, 3),
		Ops:      []feature.Op{features.NewGrayscale(), features.NewMaxPixel()},
		Parallel: true,
		Workers:  2,
		Sink:     w,
		Logger:   &nop,
	})
	require.NoError(t, err)
	rs, err := e.Transform(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "second close is a no-op")

	assert.Equal(t, int64(2*3*2), w.Rows())

	rows := readRows(t, path)
	require.Len(t, rows, 12)
	runID := e.Stats().RunID

	i := 0
	for b, batch := range rs {
		for f, rec := range batch {
			for _, key := range []string{features.KeyGrayscale, features.KeyMaxPixel} {
				row := rows[i]
				i++
				assert.Equal(t, runID, row.RunID)
				assert.Equal(t, int64(b), row.BatchNum)
				assert.Equal(t, int64(f), row.FrameNum)
				assert.Equal(t, key, row.Key)

				want, err := pipeline.ToCell(rec.Input[key])
				require.NoError(t, err)
				assert.InDeltaSlice(t, want.Data, row.Values, 1e-12)
				if len(want.Shape) == 0 {
					assert.Empty(t, row.Shape)
				} else {
					assert.Equal(t, []int64{4, 4}, row.Shape)
				}
			}
		}
	}
}

func TestWriter_TwoRunsOneFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs.parquet")
	w, err := Create(path)
	require.NoError(t, err)

	nop := zerolog.Nop()
	e, err := pipeline.New(pipeline.Options{
		Data:   testutil.Batches(1, 2, 2, 2, 1),
		Ops:    []feature.Op{features.NewBatchLength()},
		Sink:   w,
		Logger: &nop,
	})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = e.Transform(ctx)
	require.NoError(t, err)
	first := e.Stats().RunID
	_, err = e.Transform(ctx)
	require.NoError(t, err)
	second := e.Stats().RunID
	require.NoError(t, w.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 4)
	assert.Equal(t, first, rows[0].RunID)
	assert.Equal(t, second, rows[3].RunID)
	for _, row := range rows {
		assert.Equal(t, []float64{2}, row.Values)
	}
}

func TestWriter_InMemory(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)

	rec := pipeline.NewRecord(
		map[string]interface{}{"stats": []float64{1, 2, 3}},
		map[string]interface{}{pipeline.BatchNumKey: 0, pipeline.FrameNumKey: 1},
	)
	ctx := context.Background()
	require.NoError(t, w.WriteRecord(ctx, "run", rec))
	require.NoError(t, w.Close())

	out := buf.Bytes()
	require.Greater(t, len(out), 8)
	assert.Equal(t, "PAR1", string(out[:4]))
	assert.Equal(t, "PAR1", string(out[len(out)-4:]))

	assert.ErrorIs(t, w.WriteRecord(ctx, "run", rec), ErrClosed)
	assert.ErrorIs(t, w.BeginRun(ctx, pipeline.RunStats{}), ErrClosed)
	assert.ErrorIs(t, w.EndRun(ctx, pipeline.RunStats{}), ErrClosed)
}

func TestWriter_RejectsNonNumeric(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	defer w.Close()

	rec := pipeline.NewRecord(map[string]interface{}{"label": "cat"}, nil)
	assert.ErrorContains(t, w.WriteRecord(context.Background(), "run", rec), "label")
	assert.Zero(t, w.Rows())
}
