package testutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/framefeatures/internal/frame"
)

func TestAssertNoError(t *testing.T) {
	t.Parallel()
	AssertNoError(t, nil)
}

func TestAssertError(t *testing.T) {
	t.Parallel()
	AssertError(t, errors.New("test error"))
}

func TestBatches_Deterministic(t *testing.T) {
	t.Parallel()

	a := Batches(3, 2, 4, 5, 3)
	b := Batches(3, 2, 4, 5, 3)
	require.Len(t, a, 3)
	for i := range a {
		require.Len(t, a[i], 2)
		for j := range a[i] {
			assert.True(t, a[i][j].Equal(b[i][j]))
			assert.Equal(t, []int{4, 5, 3}, a[i][j].Shape())
		}
	}
	assert.False(t, a[0][0].Equal(a[0][1]), "frames should differ")
	assert.Equal(t, 6, frame.Frames(a))
}

func TestRamp_Range(t *testing.T) {
	t.Parallel()

	fr := Ramp(16, 20, 1, 7)
	for _, v := range fr.Pix {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.InDelta(t, 7.0/255, fr.Pix[0], 1e-12)
}

func TestRandomBatches_Seeded(t *testing.T) {
	t.Parallel()

	a := RandomBatches(42, 2, 2, 3, 3, 1)
	b := RandomBatches(42, 2, 2, 3, 3, 1)
	c := RandomBatches(43, 2, 2, 3, 3, 1)
	assert.True(t, a[1][1].Equal(b[1][1]))
	assert.False(t, a[1][1].Equal(c[1][1]))
}

func TestRagged(t *testing.T) {
	t.Parallel()

	bs := Ragged(2, 2, 1, 3, 1, 2)
	require.Len(t, bs, 3)
	assert.Len(t, bs[0], 3)
	assert.Len(t, bs[1], 1)
	assert.Len(t, bs[2], 2)
}

func TestFailingOp(t *testing.T) {
	t.Parallel()

	op := NewFailingOp("flaky", 3)
	fr := frame.New(1, 1, 1)
	for i := 0; i < 2; i++ {
		v, err := op.Extract(fr)
		require.NoError(t, err)
		assert.Equal(t, 1.0, v)
	}
	_, err := op.Extract(fr)
	assert.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, int64(3), op.Calls())
}

func TestScopedOp_CountsInstances(t *testing.T) {
	t.Parallel()

	proto := NewScopedOp("mean")
	w1 := proto.ForWorker()
	w2 := proto.ForWorker()
	assert.Equal(t, 2, proto.Instances())
	assert.NotSame(t, w1, w2)

	fr, err := frame.FromPix(1, 2, 1, []float64{0.25, 0.75})
	require.NoError(t, err)
	v, err := w1.Extract(fr)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, v, 1e-12)
}
