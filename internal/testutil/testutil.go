// Package testutil provides shared test utilities and fixtures.
//
// Fixtures are deterministic so results can be compared across strategies
// and across runs without tolerances.
package testutil

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/banshee-data/framefeatures/internal/feature"
	"github.com/banshee-data/framefeatures/internal/frame"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Batches builds numBatches batches of framesPerBatch frames. Pixel values
// are a ramp offset by the frame's global index, so every frame differs and
// values stay in [0, 1].
func Batches(numBatches, framesPerBatch, height, width, channels int) []frame.Batch {
	out := make([]frame.Batch, numBatches)
	n := 0
	for b := range out {
		batch := make(frame.Batch, framesPerBatch)
		for f := range batch {
			batch[f] = Ramp(height, width, channels, n)
			n++
		}
		out[b] = batch
	}
	return out
}

// Ramp returns a frame whose pixel i holds ((i + offset) mod 256) / 255.
func Ramp(height, width, channels, offset int) frame.Frame {
	fr := frame.New(height, width, channels)
	for i := range fr.Pix {
		fr.Pix[i] = float64((i+offset)%256) / 255
	}
	return fr
}

// RandomBatches is Batches with uniform random pixels from a seeded source.
func RandomBatches(seed int64, numBatches, framesPerBatch, height, width, channels int) []frame.Batch {
	rng := rand.New(rand.NewSource(seed))
	out := make([]frame.Batch, numBatches)
	for b := range out {
		batch := make(frame.Batch, framesPerBatch)
		for f := range batch {
			fr := frame.New(height, width, channels)
			for i := range fr.Pix {
				fr.Pix[i] = rng.Float64()
			}
			batch[f] = fr
		}
		out[b] = batch
	}
	return out
}

// Ragged builds batches whose lengths are given by sizes.
func Ragged(height, width, channels int, sizes ...int) []frame.Batch {
	out := make([]frame.Batch, len(sizes))
	n := 0
	for b, size := range sizes {
		batch := make(frame.Batch, size)
		for f := range batch {
			batch[f] = Ramp(height, width, channels, n)
			n++
		}
		out[b] = batch
	}
	return out
}

// ErrInjected is the failure returned by FailingOp.
var ErrInjected = errors.New("testutil: injected failure")

// FailingOp is a frame operation that returns its value until the call
// counter reaches FailAt, then returns Err (ErrInjected when nil).
type FailingOp struct {
	feature.Base
	FailAt int64
	Err    error
	calls  atomic.Int64
}

// NewFailingOp returns a frame operation that fails on call number failAt
// (1-based).
func NewFailingOp(key string, failAt int64) *FailingOp {
	return &FailingOp{Base: feature.MustBase(key, false, true), FailAt: failAt}
}

// Extract implements feature.Op.
func (o *FailingOp) Extract(in interface{}) (interface{}, error) {
	if _, err := feature.AsFrame(o.KeyName(), in); err != nil {
		return nil, err
	}
	if o.calls.Add(1) >= o.FailAt {
		if o.Err != nil {
			return nil, o.Err
		}
		return nil, ErrInjected
	}
	return 1.0, nil
}

// Calls reports how many times Extract ran.
func (o *FailingOp) Calls() int64 { return o.calls.Load() }

// ScopedOp is a worker-scoped frame operation that returns the mean pixel
// value and records how many worker instances were created.
type ScopedOp struct {
	feature.Base
	shared *scopeCounter
	// scratch is only touched by the owning worker.
	scratch []float64
}

type scopeCounter struct {
	mu        sync.Mutex
	instances int
}

// NewScopedOp returns the prototype instance handed to the engine.
func NewScopedOp(key string) *ScopedOp {
	return &ScopedOp{Base: feature.MustBase(key, false, true), shared: &scopeCounter{}}
}

// ForWorker implements feature.WorkerScoped.
func (o *ScopedOp) ForWorker() feature.Op {
	o.shared.mu.Lock()
	o.shared.instances++
	o.shared.mu.Unlock()
	return &ScopedOp{Base: o.Base, shared: o.shared}
}

// Instances reports how many worker instances were created.
func (o *ScopedOp) Instances() int {
	o.shared.mu.Lock()
	defer o.shared.mu.Unlock()
	return o.shared.instances
}

// Extract implements feature.Op.
func (o *ScopedOp) Extract(in interface{}) (interface{}, error) {
	fr, err := feature.AsFrame(o.KeyName(), in)
	if err != nil {
		return nil, err
	}
	o.scratch = append(o.scratch[:0], fr.Pix...)
	sum := 0.0
	for _, v := range o.scratch {
		sum += v
	}
	if len(o.scratch) == 0 {
		return 0.0, nil
	}
	return sum / float64(len(o.scratch)), nil
}
