package pipeline

import (
	"errors"
	"fmt"

	"github.com/spf13/cast"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/framefeatures/internal/frame"
)

// ErrShapeMismatch is returned when a result set cannot be laid out as a
// dense array: batches differ in length, a record lacks a feature, a value
// is not numeric, or one feature's values differ in shape between frames.
var ErrShapeMismatch = errors.New("pipeline: shape mismatch")

// Cell is one feature value flattened to float64. Shape is empty for scalars.
type Cell struct {
	Shape []int
	Data  []float64
}

// Array is a dense (batches, frames, features) view of a result set. Cells
// of different features may have different shapes; cells of one feature
// always share a shape. Cell data may alias frames held by the result set
// and must be treated as read-only.
type Array struct {
	shape [3]int
	keys  []string
	cells []Cell
	// featureShapes[k] is the common cell shape of feature k.
	featureShapes [][]int
}

// NewArray lays out rs with one feature per key, in key order.
func NewArray(rs ResultSet, keys []string) (*Array, error) {
	framesPerBatch, ok := rs.Uniform()
	if !ok {
		return nil, fmt.Errorf("%w: batches have different frame counts", ErrShapeMismatch)
	}

	a := &Array{
		shape:         [3]int{len(rs), framesPerBatch, len(keys)},
		keys:          append([]string(nil), keys...),
		cells:         make([]Cell, len(rs)*framesPerBatch*len(keys)),
		featureShapes: make([][]int, len(keys)),
	}

	for b, batch := range rs {
		for f, rec := range batch {
			for k, key := range keys {
				v, present := rec.Input[key]
				if !present {
					return nil, fmt.Errorf("%w: batch %d frame %d has no %q", ErrShapeMismatch, b, f, key)
				}
				cell, err := ToCell(v)
				if err != nil {
					return nil, fmt.Errorf("%w: batch %d frame %d %q: %v", ErrShapeMismatch, b, f, key, err)
				}
				if b == 0 && f == 0 {
					a.featureShapes[k] = cell.Shape
				} else if !sameShape(a.featureShapes[k], cell.Shape) {
					return nil, fmt.Errorf("%w: %q has shape %v at batch %d frame %d, want %v",
						ErrShapeMismatch, key, cell.Shape, b, f, a.featureShapes[k])
				}
				a.cells[a.index(b, f, k)] = cell
			}
		}
	}
	return a, nil
}

func (a *Array) index(b, f, k int) int {
	return (b*a.shape[1]+f)*a.shape[2] + k
}

// Shape returns (batches, frames per batch, features).
func (a *Array) Shape() [3]int { return a.shape }

// Keys returns the feature keys in array order.
func (a *Array) Keys() []string { return append([]string(nil), a.keys...) }

// FeatureIndex returns the position of key, or -1.
func (a *Array) FeatureIndex(key string) int {
	for i, k := range a.keys {
		if k == key {
			return i
		}
	}
	return -1
}

// FeatureShape returns the cell shape shared by every value of feature k.
func (a *Array) FeatureShape(k int) []int {
	out := make([]int, len(a.featureShapes[k]))
	copy(out, a.featureShapes[k])
	return out
}

// Cell returns the value at (batch, frame, feature).
func (a *Array) Cell(b, f, k int) Cell {
	return a.cells[a.index(b, f, k)]
}

// Scalar returns the value at (batch, frame, feature) when it holds exactly
// one number.
func (a *Array) Scalar(b, f, k int) (float64, error) {
	c := a.Cell(b, f, k)
	if len(c.Data) != 1 {
		return 0, fmt.Errorf("%w: %q cell has %d values", ErrShapeMismatch, a.keys[k], len(c.Data))
	}
	return c.Data[0], nil
}

// FeatureMatrix copies one feature into a matrix with a row per frame in
// (batch, frame) order and a column per flattened cell element.
func (a *Array) FeatureMatrix(key string) (*mat.Dense, error) {
	k := a.FeatureIndex(key)
	if k < 0 {
		return nil, fmt.Errorf("pipeline: unknown feature %q", key)
	}
	rows := a.shape[0] * a.shape[1]
	if rows == 0 {
		return nil, fmt.Errorf("%w: array has no frames", ErrShapeMismatch)
	}
	cols := len(a.cells[a.index(0, 0, k)].Data)
	if cols == 0 {
		return nil, fmt.Errorf("%w: %q cells are empty", ErrShapeMismatch, key)
	}
	m := mat.NewDense(rows, cols, nil)
	row := 0
	for b := 0; b < a.shape[0]; b++ {
		for f := 0; f < a.shape[1]; f++ {
			m.SetRow(row, a.cells[a.index(b, f, k)].Data)
			row++
		}
	}
	return m, nil
}

func sameShape(x, y []int) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// ToCell flattens a feature value. Frames, matrices and numeric slices keep
// their shape; anything else must be a numeric scalar.
func ToCell(v interface{}) (Cell, error) {
	switch x := v.(type) {
	case nil:
		return Cell{}, errors.New("nil value")
	case frame.Frame:
		return Cell{Shape: x.Shape(), Data: x.Pix}, nil
	case *frame.Frame:
		if x == nil {
			return Cell{}, errors.New("nil frame")
		}
		return Cell{Shape: x.Shape(), Data: x.Pix}, nil
	case []float64:
		return Cell{Shape: []int{len(x)}, Data: x}, nil
	case []float32:
		return sliceCell(len(x), func(i int) float64 { return float64(x[i]) }), nil
	case []int:
		return sliceCell(len(x), func(i int) float64 { return float64(x[i]) }), nil
	case []uint8:
		return sliceCell(len(x), func(i int) float64 { return float64(x[i]) }), nil
	case [][]float64:
		cols := 0
		if len(x) > 0 {
			cols = len(x[0])
		}
		data := make([]float64, 0, len(x)*cols)
		for i, row := range x {
			if len(row) != cols {
				return Cell{}, fmt.Errorf("ragged row %d: %d values, want %d", i, len(row), cols)
			}
			data = append(data, row...)
		}
		return Cell{Shape: []int{len(x), cols}, Data: data}, nil
	case *mat.Dense:
		if x == nil {
			return Cell{}, errors.New("nil matrix")
		}
		return matrixCell(x), nil
	case mat.Matrix:
		return matrixCell(x), nil
	case string:
		return Cell{}, fmt.Errorf("non-numeric value of type %T", v)
	}

	f, err := cast.ToFloat64E(v)
	if err != nil {
		return Cell{}, fmt.Errorf("non-numeric value of type %T", v)
	}
	return Cell{Shape: []int{}, Data: []float64{f}}, nil
}

func sliceCell(n int, at func(int) float64) Cell {
	data := make([]float64, n)
	for i := range data {
		data[i] = at(i)
	}
	return Cell{Shape: []int{n}, Data: data}
}

func matrixCell(m mat.Matrix) Cell {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return Cell{Shape: []int{r, c}, Data: data}
}
