// Package feature defines the contract between the extraction pipeline and
// the operations it runs.
//
// An operation is identified by its key name and declares whether it
// consumes a single frame or a whole batch. Base carries those two facts and
// is embedded by concrete operations; its own Extract always fails so that a
// bare Base can never be run by accident. Validate is the configuration-time
// guard the pipeline applies before any work starts.
package feature
