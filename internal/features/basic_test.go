package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/framefeatures/internal/feature"
	"github.com/banshee-data/framefeatures/internal/frame"
)

func rgb(t *testing.T, h, w int, pix ...float64) frame.Frame {
	t.Helper()
	fr, err := frame.FromPix(h, w, 3, pix)
	require.NoError(t, err)
	return fr
}

func TestGrayscale(t *testing.T) {
	t.Parallel()

	op := NewGrayscale()
	assert.Equal(t, KeyGrayscale, op.KeyName())
	assert.True(t, op.FrameOp())
	assert.False(t, op.BatchOp())

	in := rgb(t, 1, 2, 10, 20, 30, 255, 255, 255)
	v, err := op.Extract(in)
	require.NoError(t, err)
	gray, ok := v.(frame.Frame)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, gray.Shape())
	assert.InDelta(t, 18.596, gray.Pix[0], 1e-9)
	assert.InDelta(t, 255, gray.Pix[1], 1e-9)

	// Input must be left alone.
	assert.Equal(t, 10.0, in.Pix[0])
}

func TestGrayscale_SingleChannelCopies(t *testing.T) {
	t.Parallel()

	in, err := frame.FromPix(1, 2, 1, []float64{1, 2})
	require.NoError(t, err)
	v, err := NewGrayscale().Extract(in)
	require.NoError(t, err)
	out := v.(frame.Frame)
	assert.True(t, out.Equal(in))
	out.Pix[0] = 9
	assert.Equal(t, 1.0, in.Pix[0])
}

func TestGrayscale_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewGrayscale().Extract(frame.New(2, 2, 2))
	assert.ErrorIs(t, err, frame.ErrShape)

	_, err = NewGrayscale().Extract(frame.Batch{})
	assert.ErrorIs(t, err, feature.ErrInputType)
}

func TestMaxPixel(t *testing.T) {
	t.Parallel()

	v, err := NewMaxPixel().Extract(rgb(t, 1, 2, 3, 200, 7, 1, 2, 4))
	require.NoError(t, err)
	assert.Equal(t, 200.0, v)

	_, err = NewMaxPixel().Extract(frame.New(0, 0, 1))
	assert.ErrorIs(t, err, frame.ErrShape)
}

func TestBatchLength(t *testing.T) {
	t.Parallel()

	op := NewBatchLength()
	assert.True(t, op.BatchOp())
	assert.False(t, op.FrameOp())

	v, err := op.Extract(frame.Batch{frame.New(1, 1, 1), frame.New(1, 1, 1), frame.New(1, 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	v, err = op.Extract(frame.Batch{})
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	_, err = op.Extract(frame.New(1, 1, 1))
	assert.ErrorIs(t, err, feature.ErrInputType)
}

func TestPixelStats(t *testing.T) {
	t.Parallel()

	in, err := frame.FromPix(2, 2, 1, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	v, err := NewPixelStats().Extract(in)
	require.NoError(t, err)
	got := v.([]float64)
	require.Len(t, got, 4)
	assert.InDelta(t, 2.5, got[0], 1e-12)
	assert.InDelta(t, 1.118033988749895, got[1], 1e-12)
	assert.Equal(t, 1.0, got[2])
	assert.Equal(t, 4.0, got[3])
}
