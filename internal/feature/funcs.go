package feature

import (
	"fmt"

	"github.com/banshee-data/framefeatures/internal/frame"
)

// FrameFunc adapts a plain function into a frame operation.
type FrameFunc struct {
	Base
	fn func(frame.Frame) (interface{}, error)
}

// NewFrameFunc returns a frame operation backed by fn.
func NewFrameFunc(keyName string, fn func(frame.Frame) (interface{}, error)) (*FrameFunc, error) {
	base, err := NewBase(keyName, false, true)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, &ConfigError{Key: keyName, Reason: "nil extract function"}
	}
	return &FrameFunc{Base: base, fn: fn}, nil
}

// Extract implements Op.
func (f *FrameFunc) Extract(in interface{}) (interface{}, error) {
	fr, err := AsFrame(f.KeyName(), in)
	if err != nil {
		return nil, err
	}
	return f.fn(fr)
}

// BatchFunc adapts a plain function into a batch operation.
type BatchFunc struct {
	Base
	fn func(frame.Batch) (interface{}, error)
}

// NewBatchFunc returns a batch operation backed by fn.
func NewBatchFunc(keyName string, fn func(frame.Batch) (interface{}, error)) (*BatchFunc, error) {
	base, err := NewBase(keyName, true, false)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, &ConfigError{Key: keyName, Reason: "nil extract function"}
	}
	return &BatchFunc{Base: base, fn: fn}, nil
}

// Extract implements Op.
func (f *BatchFunc) Extract(in interface{}) (interface{}, error) {
	b, err := AsBatch(f.KeyName(), in)
	if err != nil {
		return nil, err
	}
	return f.fn(b)
}

// AsFrame unwraps the input of a frame operation.
func AsFrame(key string, in interface{}) (frame.Frame, error) {
	switch v := in.(type) {
	case frame.Frame:
		return v, nil
	case *frame.Frame:
		if v != nil {
			return *v, nil
		}
	}
	return frame.Frame{}, fmt.Errorf("%w: %s wants frame.Frame, got %T", ErrInputType, key, in)
}

// AsBatch unwraps the input of a batch operation.
func AsBatch(key string, in interface{}) (frame.Batch, error) {
	switch v := in.(type) {
	case frame.Batch:
		return v, nil
	case []frame.Frame:
		return frame.Batch(v), nil
	}
	return nil, fmt.Errorf("%w: %s wants frame.Batch, got %T", ErrInputType, key, in)
}
