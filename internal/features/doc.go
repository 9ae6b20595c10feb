// Package features implements the built-in feature operations.
//
// Frame operations: grayscale, max_pixel, pixel_stats and the orientation
// filters (bowtie_filter, noise_filter). Batch operations: batch_length.
// A Registry maps these names to constructors so operation lists can be
// read from configuration.
package features
