// Package frame holds the decoded image types the pipeline consumes.
//
// A Frame is a dense row-major array of float64 samples with an explicit
// height, width and channel count. Frames produced by a decoder are treated
// as read-only by every consumer; operations that need a modified copy call
// Clone first.
package frame

import (
	"errors"
	"fmt"
	"image"

	"gonum.org/v1/gonum/mat"
)

// ErrShape is returned when pixel data does not match the declared dimensions.
var ErrShape = errors.New("frame: shape mismatch")

// Frame is a single decoded image.
type Frame struct {
	Height   int
	Width    int
	Channels int
	// Pix is indexed as ((y*Width)+x)*Channels + c.
	Pix []float64
}

// Batch is an ordered group of consecutive frames. Position within the
// batch is the frame number reported in results.
type Batch []Frame

// New allocates a zeroed frame.
func New(height, width, channels int) Frame {
	if channels < 1 {
		channels = 1
	}
	return Frame{
		Height:   height,
		Width:    width,
		Channels: channels,
		Pix:      make([]float64, height*width*channels),
	}
}

// FromPix wraps existing samples without copying.
func FromPix(height, width, channels int, pix []float64) (Frame, error) {
	if height < 0 || width < 0 || channels < 1 {
		return Frame{}, fmt.Errorf("%w: invalid dimensions %dx%dx%d", ErrShape, height, width, channels)
	}
	if want := height * width * channels; len(pix) != want {
		return Frame{}, fmt.Errorf("%w: got %d samples, want %d", ErrShape, len(pix), want)
	}
	return Frame{Height: height, Width: width, Channels: channels, Pix: pix}, nil
}

// FromRGB24 converts packed 8-bit RGB (as emitted by ffmpeg -pix_fmt rgb24).
func FromRGB24(height, width int, buf []byte) (Frame, error) {
	if want := height * width * 3; len(buf) != want {
		return Frame{}, fmt.Errorf("%w: got %d bytes, want %d", ErrShape, len(buf), want)
	}
	f := New(height, width, 3)
	for i, b := range buf {
		f.Pix[i] = float64(b)
	}
	return f, nil
}

// FromImage converts any image to a 3-channel frame with 8-bit sample range.
func FromImage(img image.Image) Frame {
	b := img.Bounds()
	f := New(b.Dy(), b.Dx(), 3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			i := ((y-b.Min.Y)*f.Width + (x - b.Min.X)) * 3
			f.Pix[i] = float64(r >> 8)
			f.Pix[i+1] = float64(g >> 8)
			f.Pix[i+2] = float64(bl >> 8)
		}
	}
	return f
}

// FromDense copies a matrix into a single-channel frame.
func FromDense(m mat.Matrix) Frame {
	r, c := m.Dims()
	f := New(r, c, 1)
	for y := 0; y < r; y++ {
		for x := 0; x < c; x++ {
			f.Pix[y*c+x] = m.At(y, x)
		}
	}
	return f
}

// At returns the sample at row y, column x, channel c.
func (f Frame) At(y, x, c int) float64 {
	return f.Pix[(y*f.Width+x)*f.Channels+c]
}

// Set writes the sample at row y, column x, channel c.
func (f Frame) Set(y, x, c int, v float64) {
	f.Pix[(y*f.Width+x)*f.Channels+c] = v
}

// Len is the number of samples.
func (f Frame) Len() int { return len(f.Pix) }

// Shape reports (height, width) for single-channel frames and
// (height, width, channels) otherwise.
func (f Frame) Shape() []int {
	if f.Channels == 1 {
		return []int{f.Height, f.Width}
	}
	return []int{f.Height, f.Width, f.Channels}
}

// IsEmpty reports whether the frame carries no samples.
func (f Frame) IsEmpty() bool { return len(f.Pix) == 0 }

// Clone returns a deep copy.
func (f Frame) Clone() Frame {
	out := f
	out.Pix = append([]float64(nil), f.Pix...)
	return out
}

// Dense exposes a single-channel frame as a matrix sharing the same backing
// slice. Multi-channel frames are rejected.
func (f Frame) Dense() (*mat.Dense, error) {
	if f.Channels != 1 {
		return nil, fmt.Errorf("%w: dense view needs 1 channel, have %d", ErrShape, f.Channels)
	}
	if f.IsEmpty() {
		return nil, fmt.Errorf("%w: empty frame", ErrShape)
	}
	return mat.NewDense(f.Height, f.Width, f.Pix), nil
}

// Channel extracts channel c as a new single-channel frame.
func (f Frame) Channel(c int) (Frame, error) {
	if c < 0 || c >= f.Channels {
		return Frame{}, fmt.Errorf("%w: channel %d out of range [0,%d)", ErrShape, c, f.Channels)
	}
	out := New(f.Height, f.Width, 1)
	for i := range out.Pix {
		out.Pix[i] = f.Pix[i*f.Channels+c]
	}
	return out, nil
}

// Equal reports whether two frames have the same shape and samples.
func (f Frame) Equal(o Frame) bool {
	if f.Height != o.Height || f.Width != o.Width || f.Channels != o.Channels || len(f.Pix) != len(o.Pix) {
		return false
	}
	for i := range f.Pix {
		if f.Pix[i] != o.Pix[i] {
			return false
		}
	}
	return true
}

// Frames counts the frames across batches.
func Frames(batches []Batch) int {
	n := 0
	for _, b := range batches {
		n += len(b)
	}
	return n
}
