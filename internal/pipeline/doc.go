// Package pipeline applies an ordered list of feature operations to batches
// of frames.
//
// An Engine visits every batch and every frame. Frame operations run once
// per frame; batch operations run once per batch and their value is copied
// into every record of that batch. Each frame yields one Record holding the
// extracted values and its (batch_num, frame_num) position. With retention
// enabled the record also carries the unmodified frame under "original".
//
// Two strategies are available. Sequential runs on the calling goroutine.
// Parallel hands whole batches to a bounded worker pool and reassembles the
// results by batch index. Both produce identical result sets.
//
// After a successful Transform the result set can be reshaped into a dense
// (batches, frames, features) Array, and an optional Sink receives every
// record in order.
package pipeline
