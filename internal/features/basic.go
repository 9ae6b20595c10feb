package features

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/framefeatures/internal/feature"
	"github.com/banshee-data/framefeatures/internal/frame"
)

// Operation keys of the built-in operations.
const (
	KeyGrayscale   = "grayscale"
	KeyMaxPixel    = "max_pixel"
	KeyBatchLength = "batch_length"
	KeyPixelStats  = "pixel_stats"
)

// Luminance weights (ITU-R BT.709) used to collapse RGB to one channel.
const (
	lumaR = 0.2125
	lumaG = 0.7154
	lumaB = 0.0721
)

// Grayscale converts a frame to a single-channel luminance frame. Channels
// beyond the third (alpha) are ignored; single-channel frames are copied.
type Grayscale struct{ feature.Base }

// NewGrayscale returns the grayscale frame operation.
func NewGrayscale() *Grayscale {
	return &Grayscale{Base: feature.MustBase(KeyGrayscale, false, true)}
}

// Extract implements feature.Op.
func (g *Grayscale) Extract(in interface{}) (interface{}, error) {
	fr, err := feature.AsFrame(g.KeyName(), in)
	if err != nil {
		return nil, err
	}
	return ToGray(fr)
}

// ToGray returns the luminance of fr as a new single-channel frame.
func ToGray(fr frame.Frame) (frame.Frame, error) {
	switch {
	case fr.Channels == 1:
		return fr.Clone(), nil
	case fr.Channels < 3:
		return frame.Frame{}, fmt.Errorf("%w: cannot convert %d channels to grayscale", frame.ErrShape, fr.Channels)
	}
	out := frame.New(fr.Height, fr.Width, 1)
	c := fr.Channels
	for i := range out.Pix {
		p := fr.Pix[i*c : i*c+3]
		out.Pix[i] = lumaR*p[0] + lumaG*p[1] + lumaB*p[2]
	}
	return out, nil
}

// MaxPixel reports the largest sample of a frame across all channels.
type MaxPixel struct{ feature.Base }

// NewMaxPixel returns the max-pixel frame operation.
func NewMaxPixel() *MaxPixel {
	return &MaxPixel{Base: feature.MustBase(KeyMaxPixel, false, true)}
}

// Extract implements feature.Op.
func (m *MaxPixel) Extract(in interface{}) (interface{}, error) {
	fr, err := feature.AsFrame(m.KeyName(), in)
	if err != nil {
		return nil, err
	}
	if fr.IsEmpty() {
		return nil, fmt.Errorf("%w: %s on empty frame", frame.ErrShape, m.KeyName())
	}
	return floats.Max(fr.Pix), nil
}

// BatchLength reports the number of frames in a batch.
type BatchLength struct{ feature.Base }

// NewBatchLength returns the batch-length batch operation.
func NewBatchLength() *BatchLength {
	return &BatchLength{Base: feature.MustBase(KeyBatchLength, true, false)}
}

// Extract implements feature.Op.
func (b *BatchLength) Extract(in interface{}) (interface{}, error) {
	batch, err := feature.AsBatch(b.KeyName(), in)
	if err != nil {
		return nil, err
	}
	return len(batch), nil
}

// PixelStats summarises the samples of a frame as
// [mean, population std, min, max].
type PixelStats struct{ feature.Base }

// NewPixelStats returns the pixel-statistics frame operation.
func NewPixelStats() *PixelStats {
	return &PixelStats{Base: feature.MustBase(KeyPixelStats, false, true)}
}

// Extract implements feature.Op.
func (p *PixelStats) Extract(in interface{}) (interface{}, error) {
	fr, err := feature.AsFrame(p.KeyName(), in)
	if err != nil {
		return nil, err
	}
	if fr.IsEmpty() {
		return nil, fmt.Errorf("%w: %s on empty frame", frame.ErrShape, p.KeyName())
	}
	mean, std := stat.PopMeanStdDev(fr.Pix, nil)
	return []float64{mean, std, floats.Min(fr.Pix), floats.Max(fr.Pix)}, nil
}
