package pipeline

import (
	"context"
	"fmt"
)

// MultiSink forwards every call to each sink in order and stops at the
// first error. BeginRun and EndRun reach only the sinks that track runs.
// Nil sinks are skipped; with no sinks left it returns nil.
func MultiSink(sinks ...Sink) Sink {
	var kept multiSink
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return kept
}

type multiSink []Sink

var _ RunSink = multiSink(nil)

func (m multiSink) BeginRun(ctx context.Context, info RunStats) error {
	for i, s := range m {
		if rs, ok := s.(RunSink); ok {
			if err := rs.BeginRun(ctx, info); err != nil {
				return fmt.Errorf("sink %d: %w", i, err)
			}
		}
	}
	return nil
}

func (m multiSink) WriteRecord(ctx context.Context, runID string, rec Record) error {
	for i, s := range m {
		if err := s.WriteRecord(ctx, runID, rec); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}

func (m multiSink) EndRun(ctx context.Context, info RunStats) error {
	for i, s := range m {
		if rs, ok := s.(RunSink); ok {
			if err := rs.EndRun(ctx, info); err != nil {
				return fmt.Errorf("sink %d: %w", i, err)
			}
		}
	}
	return nil
}

var _ RunAborter = multiSink(nil)

// AbortRun reaches every sink that can abort, even after one fails, and
// returns the first error.
func (m multiSink) AbortRun(ctx context.Context, info RunStats) error {
	var first error
	for i, s := range m {
		if a, ok := s.(RunAborter); ok {
			if err := a.AbortRun(ctx, info); err != nil && first == nil {
				first = fmt.Errorf("sink %d: %w", i, err)
			}
		}
	}
	return first
}
