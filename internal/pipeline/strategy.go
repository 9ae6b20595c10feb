package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/framefeatures/internal/feature"
	"github.com/banshee-data/framefeatures/internal/frame"
)

// Strategy selects how batches are scheduled.
type Strategy string

const (
	// StrategySequential visits batches and frames in input order on the
	// calling goroutine.
	StrategySequential Strategy = "sequential"

	// StrategyParallel hands whole batches to a bounded pool of workers and
	// reassembles results by batch index.
	StrategyParallel Strategy = "parallel"
)

// String returns the strategy name.
func (s Strategy) String() string {
	return string(s)
}

// IsValid returns true if the strategy is a known value.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategySequential, StrategyParallel:
		return true
	default:
		return false
	}
}

// worker owns the operation instances one goroutine may call.
type worker struct {
	ops    []feature.Op
	retain bool
}

func newWorker(ops []feature.Op, retain bool) *worker {
	local := make([]feature.Op, len(ops))
	for i, op := range ops {
		if ws, ok := op.(feature.WorkerScoped); ok {
			local[i] = ws.ForWorker()
			continue
		}
		local[i] = op
	}
	return &worker{ops: local, retain: retain}
}

// runBatch applies every operation to one batch. Batch operations run once
// and their value is broadcast into every frame's input map. Operations with
// neither flag set contribute nothing. Both strategies go through here, so
// record content does not depend on scheduling.
func (w *worker) runBatch(batchNum int, b frame.Batch) ([]Record, map[string]interface{}, error) {
	batchValues := make(map[string]interface{})
	for _, op := range w.ops {
		if !op.BatchOp() || op.FrameOp() {
			continue
		}
		v, err := op.Extract(b)
		if err != nil {
			return nil, nil, &opFailure{key: op.KeyName(), batch: batchNum, frame: -1, err: err}
		}
		batchValues[op.KeyName()] = v
	}

	records := make([]Record, len(b))
	for i, fr := range b {
		input := make(map[string]interface{}, len(w.ops)+1)
		for _, op := range w.ops {
			switch {
			case op.FrameOp() && !op.BatchOp():
				v, err := op.Extract(fr)
				if err != nil {
					return nil, nil, &opFailure{key: op.KeyName(), batch: batchNum, frame: i, err: err}
				}
				input[op.KeyName()] = v
			case op.BatchOp() && !op.FrameOp():
				input[op.KeyName()] = batchValues[op.KeyName()]
			}
		}
		if w.retain {
			input[feature.OriginalKey] = fr
		}
		records[i] = NewRecord(input, map[string]interface{}{
			FrameNumKey: i,
			BatchNumKey: batchNum,
		})
	}
	return records, batchValues, nil
}

// opFailure carries where an operation failed. It never escapes the
// package: the engine logs the location and returns the operation's own
// error unchanged.
type opFailure struct {
	key   string
	batch int
	frame int
	err   error
}

func (f *opFailure) Error() string { return f.err.Error() }
func (f *opFailure) Unwrap() error { return f.err }

type runOutput struct {
	results     ResultSet
	batchValues []map[string]interface{}
}

func runSequential(ctx context.Context, batches []frame.Batch, ops []feature.Op, retain bool) (*runOutput, error) {
	out := &runOutput{
		results:     make(ResultSet, len(batches)),
		batchValues: make([]map[string]interface{}, len(batches)),
	}
	w := newWorker(ops, retain)
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs, vals, err := w.runBatch(i, b)
		if err != nil {
			return nil, err
		}
		out.results[i] = recs
		out.batchValues[i] = vals
	}
	return out, nil
}

func runParallel(ctx context.Context, batches []frame.Batch, ops []feature.Op, retain bool, workers int) (*runOutput, error) {
	if workers > len(batches) {
		workers = len(batches)
	}
	if workers < 1 {
		workers = 1
	}

	out := &runOutput{
		results:     make(ResultSet, len(batches)),
		batchValues: make([]map[string]interface{}, len(batches)),
	}

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	g.Go(func() error {
		defer close(jobs)
		for i := range batches {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for n := 0; n < workers; n++ {
		g.Go(func() error {
			w := newWorker(ops, retain)
			for i := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				// Each index is sent once, so slot writes never overlap.
				recs, vals, err := w.runBatch(i, batches[i])
				if err != nil {
					return err
				}
				out.results[i] = recs
				out.batchValues[i] = vals
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
