// Package decode turns video files into ordered batches of frames.
//
// Decoding shells out to ffmpeg, which writes packed rgb24 frames to a pipe.
// Grouping decoded frames into batches is a separate pure step (Batch) so
// the same windowing applies to frames from any source.
package decode

import (
	"errors"
	"fmt"

	"github.com/banshee-data/framefeatures/internal/frame"
)

// ErrOptions is returned for invalid decode options.
var ErrOptions = errors.New("decode: invalid options")

// Options controls which frames are decoded and how they are grouped.
type Options struct {
	// BatchSize is the number of consecutive frames per batch.
	BatchSize int `json:"batch_size"`

	// Start is the index of the first frame of the first batch.
	Start int `json:"start"`

	// End is the index of the last frame considered, inclusive. A negative
	// value means the last decoded frame.
	End int `json:"end"`

	// Stride is the distance between the first frames of consecutive
	// batches. Zero means BatchSize, giving non-overlapping batches. A stride
	// smaller than BatchSize yields overlapping batches that share frames.
	Stride int `json:"stride"`

	// Width and Height rescale frames when both are set. Otherwise the
	// native size reported by the probe is used.
	Width  int `json:"width"`
	Height int `json:"height"`

	// DropLast discards a final batch shorter than BatchSize.
	DropLast bool `json:"drop_last"`
}

// DefaultOptions decodes the whole video into non-overlapping batches of
// two frames.
func DefaultOptions() Options {
	return Options{BatchSize: 2, End: -1}
}

// Validate checks the options before any decoding starts.
func (o Options) Validate() error {
	switch {
	case o.BatchSize < 1:
		return fmt.Errorf("%w: batch size %d must be at least 1", ErrOptions, o.BatchSize)
	case o.Start < 0:
		return fmt.Errorf("%w: start %d is negative", ErrOptions, o.Start)
	case o.Stride < 0:
		return fmt.Errorf("%w: stride %d is negative", ErrOptions, o.Stride)
	case o.End >= 0 && o.End < o.Start:
		return fmt.Errorf("%w: end %d is before start %d", ErrOptions, o.End, o.Start)
	case (o.Width == 0) != (o.Height == 0):
		return fmt.Errorf("%w: width and height must be set together", ErrOptions)
	case o.Width < 0 || o.Height < 0:
		return fmt.Errorf("%w: negative frame size %dx%d", ErrOptions, o.Width, o.Height)
	}
	return nil
}

func (o Options) stride() int {
	if o.Stride == 0 {
		return o.BatchSize
	}
	return o.Stride
}

// lastIndex is the last frame index Batch will read from n decoded frames,
// or -1 when there is none.
func (o Options) lastIndex(n int) int {
	last := n - 1
	if o.End >= 0 && o.End < last {
		last = o.End
	}
	return last
}

// FrameLimit is the number of leading frames a decoder must produce to
// satisfy the options, or 0 when every frame is needed.
func (o Options) FrameLimit() int {
	if o.End < 0 {
		return 0
	}
	return o.End + 1
}

// Batch groups frames into batches. Batch k starts at Start + k*Stride and
// holds up to BatchSize consecutive frames, never reading past End. Batches
// starting past End are not produced.
func Batch(frames []frame.Frame, opts Options) ([]frame.Batch, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	last := opts.lastIndex(len(frames))
	var out []frame.Batch
	for s := opts.Start; s <= last; s += opts.stride() {
		e := s + opts.BatchSize
		if e > last+1 {
			if opts.DropLast {
				break
			}
			e = last + 1
		}
		out = append(out, frame.Batch(frames[s:e:e]))
	}
	if out == nil {
		out = []frame.Batch{}
	}
	return out, nil
}
