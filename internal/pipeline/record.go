package pipeline

import (
	"sort"

	"github.com/spf13/cast"
)

// Metadata keys present on every record produced by a run.
const (
	FrameNumKey = "frame_num"
	BatchNumKey = "batch_num"
)

// Record is the per-frame output of a run: the extracted values keyed by
// operation key name (plus "original" when frames are retained) and the
// frame's position.
type Record struct {
	Input    map[string]interface{} `json:"input"`
	Metadata map[string]interface{} `json:"metadata"`
}

// NewRecord builds a record from a transform map and a metadata map. Both
// maps are shallow-copied; no keys are added or dropped.
func NewRecord(transforms, metadata map[string]interface{}) Record {
	return Record{
		Input:    copyMap(transforms),
		Metadata: copyMap(metadata),
	}
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FrameNum returns the 0-based position of the frame within its batch, or
// -1 if the metadata does not carry one.
func (r Record) FrameNum() int {
	return metaInt(r.Metadata, FrameNumKey)
}

// BatchNum returns the 0-based position of the batch within the run, or -1
// if the metadata does not carry one.
func (r Record) BatchNum() int {
	return metaInt(r.Metadata, BatchNumKey)
}

func metaInt(m map[string]interface{}, key string) int {
	v, ok := m[key]
	if !ok {
		return -1
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return -1
	}
	return n
}

// Keys returns the input keys in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r.Input))
	for k := range r.Input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ResultSet holds one slice of records per batch, in input order.
type ResultSet [][]Record

// NumBatches is the number of batches in the set.
func (rs ResultSet) NumBatches() int { return len(rs) }

// NumRecords counts every record across batches.
func (rs ResultSet) NumRecords() int {
	n := 0
	for _, b := range rs {
		n += len(b)
	}
	return n
}

// Uniform reports the common batch length, or false when batches differ in
// length. An empty set is uniform with zero frames per batch.
func (rs ResultSet) Uniform() (framesPerBatch int, ok bool) {
	if len(rs) == 0 {
		return 0, true
	}
	framesPerBatch = len(rs[0])
	for _, b := range rs[1:] {
		if len(b) != framesPerBatch {
			return 0, false
		}
	}
	return framesPerBatch, true
}

// Each visits every record in (batch, frame) order and stops at the first
// error.
func (rs ResultSet) Each(fn func(rec Record) error) error {
	for _, b := range rs {
		for _, rec := range b {
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clone copies the batch slices and every record's maps. Values themselves,
// frames included, are shared.
func (rs ResultSet) Clone() ResultSet {
	if rs == nil {
		return nil
	}
	out := make(ResultSet, len(rs))
	for b, batch := range rs {
		out[b] = make([]Record, len(batch))
		for f, rec := range batch {
			out[b][f] = NewRecord(rec.Input, rec.Metadata)
		}
	}
	return out
}
