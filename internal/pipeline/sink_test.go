package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSink implements Sink only.
type countingSink struct{ n int }

func (s *countingSink) WriteRecord(context.Context, string, Record) error {
	s.n++
	return nil
}

func TestMultiSink_Collapses(t *testing.T) {
	t.Parallel()

	assert.Nil(t, MultiSink())
	assert.Nil(t, MultiSink(nil, nil))

	only := &countingSink{}
	assert.Same(t, only, MultiSink(nil, only))
}

func TestMultiSink_FansOut(t *testing.T) {
	t.Parallel()

	tracked := &recordingSink{}
	plain := &countingSink{}
	e := newEngine(t, Options{Data: fixture(), Ops: basicOps(), Sink: MultiSink(tracked, plain)})
	_, err := e.Transform(context.Background())
	require.NoError(t, err)

	assert.Equal(t, numBatches*framesPerBatch, plain.n)
	require.Len(t, tracked.records, numBatches*framesPerBatch)
	assert.Equal(t, "begin", tracked.calls[0])
	assert.Equal(t, "end", tracked.calls[len(tracked.calls)-1])
}

func TestMultiSink_StopsAtFirstError(t *testing.T) {
	t.Parallel()

	failing := &recordingSink{failAt: 1}
	plain := &countingSink{}
	e := newEngine(t, Options{Data: fixture(), Ops: basicOps(), Sink: MultiSink(failing, plain)})
	_, err := e.Transform(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink 0")
	assert.Zero(t, plain.n)
}

func TestMultiSink_AbortReachesEveryAborter(t *testing.T) {
	t.Parallel()

	first := &recordingSink{}
	failing := &recordingSink{failAt: 2}
	e := newEngine(t, Options{Data: fixture(), Ops: basicOps(), Sink: MultiSink(first, &countingSink{}, failing)})
	_, err := e.Transform(context.Background())
	require.Error(t, err)

	assert.Equal(t, "abort", first.calls[len(first.calls)-1])
	assert.Equal(t, "abort", failing.calls[len(failing.calls)-1])
	assert.Equal(t, first.aborted, failing.aborted)
	assert.NotContains(t, first.calls, "end")
}
