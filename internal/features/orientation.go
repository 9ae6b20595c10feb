package features

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/banshee-data/framefeatures/internal/feature"
	"github.com/banshee-data/framefeatures/internal/frame"
)

// Mask selects how an OrientationFilter alters the amplitude spectrum.
type Mask string

const (
	// MaskBowtie suppresses a band of orientations and spatial frequencies.
	MaskBowtie Mask = "bowtie"
	// MaskNoise keeps the phase spectrum and replaces the amplitude with a
	// 1/f profile.
	MaskNoise Mask = "noise"
)

// String returns the mask name.
func (m Mask) String() string { return string(m) }

// IsValid returns true if the mask is a known value.
func (m Mask) IsValid() bool {
	switch m {
	case MaskBowtie, MaskNoise:
		return true
	default:
		return false
	}
}

// Falloff selects the angular profile of the bowtie mask.
type Falloff string

const (
	FalloffTriangle  Falloff = "triangle"
	FalloffRectangle Falloff = "rectangle"
	FalloffGaussian  Falloff = "gaussian"
)

// String returns the falloff name.
func (f Falloff) String() string { return string(f) }

// IsValid returns true if the falloff is a known value.
func (f Falloff) IsValid() bool {
	switch f {
	case FalloffTriangle, FalloffRectangle, FalloffGaussian:
		return true
	default:
		return false
	}
}

// OrientationConfig parameterises an OrientationFilter. Angles are in
// degrees, 0 being energy that varies along x and 90 energy that varies
// along y. Cutoffs are radii in frequency-index units.
type OrientationConfig struct {
	Mask              Mask    `json:"mask"`
	CenterOrientation float64 `json:"center_orientation"`
	OrientationWidth  float64 `json:"orientation_width"`
	LowCutoff         float64 `json:"low_cutoff"`
	// HighCutoff of zero means the frame width.
	HighCutoff float64 `json:"high_cutoff"`
	// TargetSize of zero accepts any frame with an even width. Otherwise
	// frames must be TargetSize square.
	TargetSize int `json:"target_size"`
	// Falloff defaults to triangle.
	Falloff Falloff `json:"falloff"`
}

// DefaultOrientationConfig returns a horizontal-band bowtie configuration.
func DefaultOrientationConfig(mask Mask) OrientationConfig {
	return OrientationConfig{
		Mask:              mask,
		CenterOrientation: 90,
		OrientationWidth:  20,
		LowCutoff:         0.1,
		Falloff:           FalloffTriangle,
	}
}

// Validate checks the configuration independently of any frame.
func (c OrientationConfig) Validate() error {
	key := string(c.Mask) + "_filter"
	switch {
	case !c.Mask.IsValid():
		return &feature.ConfigError{Key: key, Reason: fmt.Sprintf("unknown mask %q", c.Mask)}
	case c.Falloff != "" && !c.Falloff.IsValid():
		return &feature.ConfigError{Key: key, Reason: fmt.Sprintf("unknown falloff %q", c.Falloff)}
	case c.OrientationWidth == 0:
		return &feature.ConfigError{Key: key, Reason: "orientation width must be non-zero"}
	case c.TargetSize < 0 || c.TargetSize%2 != 0:
		return &feature.ConfigError{Key: key, Reason: fmt.Sprintf("target size %d must be even", c.TargetSize)}
	case c.LowCutoff < 0 || (c.HighCutoff != 0 && c.HighCutoff < c.LowCutoff):
		return &feature.ConfigError{Key: key, Reason: "cutoffs must satisfy 0 <= low <= high"}
	}
	return nil
}

// OrientationFilter is a frame operation that converts a frame to
// grayscale, transforms it with a 2-D FFT, reshapes the spectrum with a
// mask and transforms it back. The result is a single-channel frame.
//
// FFT plans and scratch buffers are per instance; the engine obtains one
// instance per worker through ForWorker. Masks are immutable and shared
// between instances through a bounded cache.
type OrientationFilter struct {
	feature.Base
	cfg   OrientationConfig
	masks *maskCache

	rowFFT, colFFT *fourier.CmplxFFT
	spectrum       []complex128
	col            []complex128
}

var _ feature.WorkerScoped = (*OrientationFilter)(nil)

// NewOrientationFilter validates cfg and returns a filter keyed
// "<mask>_filter".
func NewOrientationFilter(cfg OrientationConfig) (*OrientationFilter, error) {
	if cfg.Falloff == "" {
		cfg.Falloff = FalloffTriangle
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := feature.NewBase(string(cfg.Mask)+"_filter", false, true)
	if err != nil {
		return nil, err
	}
	masks, err := newMaskCache()
	if err != nil {
		return nil, err
	}
	return &OrientationFilter{Base: base, cfg: cfg, masks: masks}, nil
}

// Config returns the effective configuration.
func (o *OrientationFilter) Config() OrientationConfig { return o.cfg }

// ForWorker implements feature.WorkerScoped.
func (o *OrientationFilter) ForWorker() feature.Op {
	return &OrientationFilter{Base: o.Base, cfg: o.cfg, masks: o.masks}
}

// Close releases the mask cache shared by this filter and its worker
// instances.
func (o *OrientationFilter) Close() {
	o.masks.close()
}

// Extract implements feature.Op.
func (o *OrientationFilter) Extract(in interface{}) (interface{}, error) {
	fr, err := feature.AsFrame(o.KeyName(), in)
	if err != nil {
		return nil, err
	}
	gray, err := ToGray(fr)
	if err != nil {
		return nil, err
	}
	h, w := gray.Height, gray.Width
	if err := o.checkSize(h, w); err != nil {
		return nil, err
	}

	o.forward(gray.Pix, h, w)
	m := o.masks.get(o.cfg, h, w)

	switch o.cfg.Mask {
	case MaskNoise:
		for i, c := range o.spectrum {
			o.spectrum[i] = cmplx.Rect(m[i], cmplx.Phase(c))
		}
	default:
		for i := range o.spectrum {
			o.spectrum[i] *= complex(m[i], 0)
		}
	}

	out := frame.New(h, w, 1)
	o.inverse(out.Pix, h, w)
	if o.cfg.Mask == MaskNoise {
		normalise(out.Pix)
	}
	return out, nil
}

func (o *OrientationFilter) checkSize(h, w int) error {
	if h == 0 || w == 0 {
		return fmt.Errorf("%w: %s on empty frame", frame.ErrShape, o.KeyName())
	}
	if o.cfg.TargetSize != 0 {
		if h != o.cfg.TargetSize || w != o.cfg.TargetSize {
			return fmt.Errorf("%w: %s wants %dx%d frames, got %dx%d",
				frame.ErrShape, o.KeyName(), o.cfg.TargetSize, o.cfg.TargetSize, h, w)
		}
		return nil
	}
	if w%2 != 0 {
		return fmt.Errorf("%w: %s wants an even frame width, got %d", frame.ErrShape, o.KeyName(), w)
	}
	return nil
}

// forward loads pix into the spectrum buffer and applies a 2-D FFT in
// place: rows first, then columns.
func (o *OrientationFilter) forward(pix []float64, h, w int) {
	o.plan(h, w)
	for i, v := range pix {
		o.spectrum[i] = complex(v, 0)
	}
	for y := 0; y < h; y++ {
		row := o.spectrum[y*w : (y+1)*w]
		o.rowFFT.Coefficients(row, row)
	}
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			o.col[y] = o.spectrum[y*w+x]
		}
		o.colFFT.Coefficients(o.col, o.col)
		for y := 0; y < h; y++ {
			o.spectrum[y*w+x] = o.col[y]
		}
	}
}

// inverse transforms the spectrum buffer back and writes the normalised
// real part to dst.
func (o *OrientationFilter) inverse(dst []float64, h, w int) {
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			o.col[y] = o.spectrum[y*w+x]
		}
		o.colFFT.Sequence(o.col, o.col)
		for y := 0; y < h; y++ {
			o.spectrum[y*w+x] = o.col[y]
		}
	}
	n := float64(h * w)
	for y := 0; y < h; y++ {
		row := o.spectrum[y*w : (y+1)*w]
		o.rowFFT.Sequence(row, row)
		for x, c := range row {
			dst[y*w+x] = real(c) / n
		}
	}
}

func (o *OrientationFilter) plan(h, w int) {
	if o.rowFFT == nil {
		o.rowFFT = fourier.NewCmplxFFT(w)
	} else if o.rowFFT.Len() != w {
		o.rowFFT.Reset(w)
	}
	if o.colFFT == nil {
		o.colFFT = fourier.NewCmplxFFT(h)
	} else if o.colFFT.Len() != h {
		o.colFFT.Reset(h)
	}
	if cap(o.spectrum) < h*w {
		o.spectrum = make([]complex128, h*w)
	}
	o.spectrum = o.spectrum[:h*w]
	if cap(o.col) < h {
		o.col = make([]complex128, h)
	}
	o.col = o.col[:h]
}

// normalise rescales v to [0, 1] in place. A constant input becomes zero.
func normalise(v []float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range v {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	span := hi - lo
	for i := range v {
		if span == 0 {
			v[i] = 0
			continue
		}
		v[i] = (v[i] - lo) / span
	}
}

// signedFreq maps an FFT index to its signed frequency, with the Nyquist
// bin of an even length reported as negative.
func signedFreq(k, n int) float64 {
	if k < (n+1)/2 {
		return float64(k)
	}
	return float64(k - n)
}

// bowtieMultiplier returns 1 - bowtie in unshifted FFT layout, ready to
// multiply a spectrum of an h x w frame.
func bowtieMultiplier(cfg OrientationConfig, h, w int) []float64 {
	high := cfg.HighCutoff
	if high == 0 {
		high = float64(w)
	}
	center := math.Mod(cfg.CenterOrientation, 180)
	if center < 0 {
		center += 180
	}
	half := math.Abs(cfg.OrientationWidth) / 2

	out := make([]float64, h*w)
	for ky := 0; ky < h; ky++ {
		v := signedFreq(ky, h)
		for kx := 0; kx < w; kx++ {
			u := signedFreq(kx, w)
			r := math.Hypot(u, v)
			weight := 0.0
			if r >= cfg.LowCutoff && r <= high {
				weight = angularWeight(cfg.Falloff, angleDistance(u, v, center), half)
			}
			out[ky*w+kx] = 1 - weight
		}
	}
	return out
}

// angleDistance is the unsigned angular distance in degrees between the
// orientation of (u, v) and center, modulo 180.
func angleDistance(u, v, center float64) float64 {
	theta := math.Atan2(v, u) * 180 / math.Pi
	d := math.Mod(math.Abs(theta-center), 180)
	return math.Min(d, 180-d)
}

func angularWeight(falloff Falloff, d, half float64) float64 {
	switch falloff {
	case FalloffRectangle:
		if d <= half {
			return 1
		}
		return 0
	case FalloffGaussian:
		return math.Exp(-math.Pow(d/half, 4))
	default:
		if d <= half {
			return 1 - d/half
		}
		return 0
	}
}

// noiseAmplitude returns a 1/f amplitude spectrum in unshifted FFT layout
// with the DC bin zeroed.
func noiseAmplitude(h, w int) []float64 {
	scale := float64(w) * math.Sqrt2
	out := make([]float64, h*w)
	for ky := 0; ky < h; ky++ {
		v := signedFreq(ky, h)
		for kx := 0; kx < w; kx++ {
			u := signedFreq(kx, w)
			r := math.Hypot(u, v)
			if r == 0 {
				continue
			}
			out[ky*w+kx] = scale / r
		}
	}
	return out
}
