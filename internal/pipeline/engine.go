package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/banshee-data/framefeatures/internal/feature"
	"github.com/banshee-data/framefeatures/internal/frame"
	"github.com/banshee-data/framefeatures/internal/monitoring"
	"github.com/banshee-data/framefeatures/internal/timeutil"
)

const abortTimeout = 5 * time.Second

var (
	// ErrNoData is returned by Transform when no batches were ever supplied.
	ErrNoData = errors.New("pipeline: no batch data supplied")

	// ErrNotTransformed is returned by AsArray before the first successful
	// Transform.
	ErrNotTransformed = errors.New("pipeline: transform has not been run")
)

// Sink receives every record of a successful run. Records arrive in
// (batch, frame) order, once each, after the whole result set is complete.
// When frames are retained the record includes the original frame.
type Sink interface {
	WriteRecord(ctx context.Context, runID string, rec Record) error
}

// RunSink is optionally implemented by sinks that track runs. BeginRun is
// called before the first record and EndRun after the last one.
type RunSink interface {
	Sink
	BeginRun(ctx context.Context, info RunStats) error
	EndRun(ctx context.Context, info RunStats) error
}

// RunAborter is optionally implemented by run-tracking sinks that can
// discard a run. AbortRun is called when a write or EndRun fails after
// BeginRun succeeded, so no partial run is left behind.
type RunAborter interface {
	AbortRun(ctx context.Context, info RunStats) error
}

// Options configures an Engine.
type Options struct {
	// Data is the ordered batch sequence. It may be left nil and supplied
	// later with SetData.
	Data []frame.Batch

	// Ops are applied in list order.
	Ops []feature.Op

	// Parallel selects the worker-pool strategy.
	Parallel bool

	// Workers bounds the pool size for the parallel strategy. Zero means
	// GOMAXPROCS.
	Workers int

	// Retain stores each unmodified input frame under the "original" key.
	Retain bool

	// Models is carried through untouched for predictive operations.
	Models []interface{}

	// Sink, when set, receives every record of a successful run.
	Sink Sink

	// Logger overrides the component logger.
	Logger *zerolog.Logger

	// Clock overrides the wall clock used for run stats.
	Clock timeutil.Clock
}

// RunStats summarises the last successful run.
type RunStats struct {
	RunID          string        `json:"run_id"`
	Strategy       Strategy      `json:"strategy"`
	Workers        int           `json:"workers"`
	Batches        int           `json:"batches"`
	Frames         int           `json:"frames"`
	Features       int           `json:"features"`
	Retained       bool          `json:"retained"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration_ns"`
	CompletedAt    time.Time     `json:"completed_at"`
	FeatureKeys    []string      `json:"feature_keys"`
	FramesPerBatch int           `json:"frames_per_batch"`
}

// Engine applies an ordered list of operations to batches of frames.
//
// An Engine is safe to share, but runs are serialised: a second Transform
// waits for the first to finish.
type Engine struct {
	mu sync.Mutex

	ops      []feature.Op
	keys     []string
	strategy Strategy
	workers  int
	retain   bool
	models   []interface{}
	sink     Sink
	logger   zerolog.Logger
	clock    timeutil.Clock

	data        []frame.Batch
	results     ResultSet
	batchValues []map[string]interface{}
	stats       RunStats
	transformed bool
}

// New validates the operation list and builds an engine. Configuration
// errors surface here, before any data is touched.
func New(opts Options) (*Engine, error) {
	if err := feature.Validate(opts.Ops); err != nil {
		return nil, err
	}

	e := &Engine{
		ops:      append([]feature.Op(nil), opts.Ops...),
		keys:     feature.Keys(opts.Ops),
		strategy: StrategySequential,
		workers:  1,
		retain:   opts.Retain,
		models:   opts.Models,
		sink:     opts.Sink,
		clock:    opts.Clock,
		data:     opts.Data,
	}
	if opts.Retain {
		e.keys = append(e.keys, feature.OriginalKey)
	}
	if opts.Parallel {
		e.strategy = StrategyParallel
		e.workers = opts.Workers
		if e.workers <= 0 {
			e.workers = runtime.GOMAXPROCS(0)
		}
	}
	if opts.Logger != nil {
		e.logger = opts.Logger.With().Str("component", "pipeline").Logger()
	} else {
		e.logger = monitoring.Component("pipeline")
	}
	if e.clock == nil {
		e.clock = timeutil.RealClock{}
	}
	return e, nil
}

// SetData supplies (or replaces) the batch sequence for the next run.
func (e *Engine) SetData(batches []frame.Batch) {
	e.mu.Lock()
	e.data = batches
	e.mu.Unlock()
}

// Models returns the model list passed at construction.
func (e *Engine) Models() []interface{} {
	return e.models
}

// Strategy reports the configured scheduling strategy.
func (e *Engine) Strategy() Strategy {
	return e.strategy
}

// FeatureKeys lists the record input keys in export order: operation keys
// in list order, then "original" when frames are retained.
func (e *Engine) FeatureKeys() []string {
	return append([]string(nil), e.keys...)
}

// Transform runs every operation over the current data and returns a copy
// of the result set. An operation error aborts the run and is returned
// as-is; the previous result set, if any, stays in place. Values inside the
// records, frames included, are shared with the engine and must be treated
// as read-only.
func (e *Engine) Transform(ctx context.Context) (ResultSet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.data == nil {
		return nil, ErrNoData
	}

	batches := e.data
	stats := RunStats{
		RunID:       uuid.NewString(),
		Strategy:    e.strategy,
		Workers:     e.workers,
		Batches:     len(batches),
		Frames:      frame.Frames(batches),
		Features:    len(e.keys),
		Retained:    e.retain,
		StartedAt:   e.clock.Now(),
		FeatureKeys: e.FeatureKeys(),
	}
	if n, ok := uniformBatchLen(batches); ok {
		stats.FramesPerBatch = n
	}

	log := e.logger.With().Str("run_id", stats.RunID).Logger()
	log.Info().
		Str("strategy", stats.Strategy.String()).
		Int("workers", stats.Workers).
		Int("batches", stats.Batches).
		Int("frames", stats.Frames).
		Strs("features", stats.FeatureKeys).
		Msg("starting feature extraction")

	var (
		out *runOutput
		err error
	)
	switch e.strategy {
	case StrategyParallel:
		out, err = runParallel(ctx, batches, e.ops, e.retain, e.workers)
	default:
		out, err = runSequential(ctx, batches, e.ops, e.retain)
	}
	if err != nil {
		var failure *opFailure
		if errors.As(err, &failure) {
			log.Error().
				Err(failure.err).
				Str("key", failure.key).
				Int("batch_num", failure.batch).
				Int("frame_num", failure.frame).
				Msg("feature operation failed")
			return nil, failure.err
		}
		log.Error().Err(err).Msg("feature extraction aborted")
		return nil, err
	}

	for i, recs := range out.results {
		log.Debug().Int("batch_num", i).Int("frames", len(recs)).Msg("batch complete")
	}
	stats.Duration = e.clock.Since(stats.StartedAt)
	stats.CompletedAt = stats.StartedAt.Add(stats.Duration)

	if e.sink != nil {
		if err := e.persist(ctx, stats, out.results); err != nil {
			log.Error().Err(err).Msg("persisting records failed")
			return nil, err
		}
	}

	e.results = out.results
	e.batchValues = out.batchValues
	e.stats = stats
	e.transformed = true

	log.Info().
		Dur("duration", stats.Duration).
		Int("records", out.results.NumRecords()).
		Msg("feature extraction complete")

	return out.results.Clone(), nil
}

func (e *Engine) persist(ctx context.Context, stats RunStats, rs ResultSet) error {
	runSink, tracked := e.sink.(RunSink)
	if tracked {
		if err := runSink.BeginRun(ctx, stats); err != nil {
			return fmt.Errorf("begin run %s: %w", stats.RunID, err)
		}
	}
	err := rs.Each(func(rec Record) error {
		if err := e.sink.WriteRecord(ctx, stats.RunID, rec); err != nil {
			return fmt.Errorf("persist record (batch %d, frame %d): %w", rec.BatchNum(), rec.FrameNum(), err)
		}
		return nil
	})
	if err == nil && tracked {
		if eerr := runSink.EndRun(ctx, stats); eerr != nil {
			err = fmt.Errorf("end run %s: %w", stats.RunID, eerr)
		}
	}
	if err != nil && tracked {
		e.abort(stats)
	}
	return err
}

// abort discards a partially persisted run. It uses a fresh context so a
// cancelled run can still be cleaned up.
func (e *Engine) abort(stats RunStats) {
	aborter, ok := e.sink.(RunAborter)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	if err := aborter.AbortRun(ctx, stats); err != nil {
		e.logger.Warn().Err(err).Str("run_id", stats.RunID).Msg("discarding partial run failed")
	}
}

// Results returns a copy of the last successful result set, or nil. As with
// Transform, record values are shared and read-only.
func (e *Engine) Results() ResultSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results.Clone()
}

// BatchResults returns the per-batch values of batch operations from the
// last successful run, indexed by batch number. The same values are also
// broadcast into every record of the batch.
func (e *Engine) BatchResults() []map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.batchValues == nil {
		return nil
	}
	out := make([]map[string]interface{}, len(e.batchValues))
	for i, m := range e.batchValues {
		out[i] = copyMap(m)
	}
	return out
}

// Stats returns the summary of the last successful run.
func (e *Engine) Stats() RunStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// AsArray reshapes the last result set into a (batches, frames, features)
// array. Features follow FeatureKeys order. A failure leaves the result set
// untouched.
func (e *Engine) AsArray() (*Array, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.transformed {
		return nil, ErrNotTransformed
	}
	return NewArray(e.results, e.keys)
}

func uniformBatchLen(batches []frame.Batch) (int, bool) {
	if len(batches) == 0 {
		return 0, true
	}
	n := len(batches[0])
	for _, b := range batches[1:] {
		if len(b) != n {
			return 0, false
		}
	}
	return n, true
}
