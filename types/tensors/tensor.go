// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a `Tensor`, a representation of a multi-dimensional array, and
// `Ragged`, a batch of variable-length sequences concatenated along the first axis.
//
// Tensors are multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large dimensions), defined
// by their shape and their actual content, stored as a flat row-major []float32. All layers
// compute in a single consistent precision, so the DType is always dtypes.Float32.
//
// There are various ways to construct a Tensor from local data:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - Zeros(dimensions ...int): same as FromShape, with a Float32 shape built from the dimensions.
//
//   - FromFlatDataAndDimensions(data []float32, dimensions ...int): creates a Tensor with the
//     given dimensions that uses the given data as its storage. The data is NOT copied, which allows
//     parameters to be views into a larger flat buffer. Example:
//
//     t := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2) // Tensor with [[1,2], [3,4]]
//
//   - FromValue(value any): Generic conversion from a float32 scalar or any arbitrary multidimensional
//     slice of float32 (float64 values are converted). Slices of rank > 1 must be regular, that is
//     all the sub-slices must have the same shape. Example:
//
//     t := FromValue([][]float32{{1,2}, {3, 5}, {7, 11}})
package tensors

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/koaning/thinc/pkg/support/xslices"
	"github.com/koaning/thinc/types/shapes"
	"github.com/pkg/errors"
)

// Tensor represents a multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large dimensions), defined
// by their shape and their actual content stored as a flat (1D) array of values.
type Tensor struct {
	shape shapes.Shape
	flat  []float32
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
//
// It panics if the shape DType is not Float32.
func FromShape(shape shapes.Shape) *Tensor {
	if shape.DType != dtypes.Float32 {
		exceptions.Panicf("tensors.FromShape(%s): only Float32 tensors are supported", shape)
	}
	return &Tensor{shape: shape.Clone(), flat: make([]float32, shape.Size())}
}

// Zeros returns a Float32 Tensor with the given dimensions filled with zeros.
func Zeros(dimensions ...int) *Tensor {
	return FromShape(shapes.Make(dtypes.Float32, dimensions...))
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled with the
// given scalar value replicated everywhere.
func FromScalarAndDimensions(value float32, dimensions ...int) *Tensor {
	t := Zeros(dimensions...)
	xslices.FillSlice(t.flat, value)
	return t
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, backed by the flattened values given in `data`.
//
// The data is not copied: changes to the tensor are visible in `data` and vice versa.
// It panics if the size of data doesn't match the dimensions.
func FromFlatDataAndDimensions(data []float32, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.Float32, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d", shape, len(data), shape.Size())
	}
	return &Tensor{shape: shape, flat: data}
}

// FromValue returns a tensor constructed from the given multi-dimension slice (or scalar).
// If the rank of the `value` is larger than 1, the shape of all sub-slices must be the same.
// If value is a *Tensor already, it is returned as is.
//
// It panics if the shape is not regular or the type is not supported.
func FromValue(value any) *Tensor {
	if valueT, ok := value.(*Tensor); ok {
		return valueT
	}
	var dims []int
	if err := dimensionsForValue(&dims, reflect.ValueOf(value)); err != nil {
		panic(errors.Wrapf(err, "cannot create tensor from %T", value))
	}
	t := Zeros(dims...)
	pos := 0
	copyValuesRecursively(t.flat, &pos, reflect.ValueOf(value))
	return t
}

func dimensionsForValue(dims *[]int, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return nil
	case reflect.Slice:
		if v.Len() == 0 {
			return errors.Errorf("empty slices are not valid for tensor conversion, use tensors.Zeros instead")
		}
		*dims = append(*dims, v.Len())
		prefix := len(*dims)
		if err := dimensionsForValue(dims, v.Index(0)); err != nil {
			return err
		}
		reference := slices.Clone((*dims)[prefix:])
		for ii := 1; ii < v.Len(); ii++ {
			var subDims []int
			if err := dimensionsForValue(&subDims, v.Index(ii)); err != nil {
				return err
			}
			if !slices.Equal(reference, subDims) {
				return errors.Errorf("sub-slices have irregular shapes, found dimensions %v and %v", reference, subDims)
			}
		}
		return nil
	case reflect.Invalid:
		return errors.New("cannot convert nil to a tensor")
	default:
		return errors.Errorf("cannot convert type %s to a float32 tensor", v.Type())
	}
}

func copyValuesRecursively(flat []float32, pos *int, v reflect.Value) {
	if v.Kind() == reflect.Slice {
		for ii := range v.Len() {
			copyValuesRecursively(flat, pos, v.Index(ii))
		}
		return
	}
	flat[*pos] = float32(v.Float())
	*pos++
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape, always dtypes.Float32.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank returns the rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return len(t.flat) }

// Dim returns the dimension of the given axis. Negative axes count from the end.
func (t *Tensor) Dim(axis int) int { return t.shape.Dim(axis) }

// Flat returns the underlying flat data. It's not a copy, changes are reflected in the tensor.
func (t *Tensor) Flat() []float32 { return t.flat }

// Reshape returns a new tensor sharing the same data with the new dimensions.
// It panics if the size differs.
func (t *Tensor) Reshape(dimensions ...int) *Tensor {
	return FromFlatDataAndDimensions(t.flat, dimensions...)
}

// At returns the value at the given indices, one per axis.
func (t *Tensor) At(indices ...int) float32 {
	if len(indices) != t.Rank() {
		exceptions.Panicf("Tensor.At(%v): wanted %d indices for shape %s", indices, t.Rank(), t.shape)
	}
	pos := 0
	for axis, stride := range t.shape.Strides() {
		idx := indices[axis]
		if idx < 0 || idx >= t.shape.Dimensions[axis] {
			exceptions.Panicf("Tensor.At(%v): index out-of-bounds for shape %s", indices, t.shape)
		}
		pos += idx * stride
	}
	return t.flat[pos]
}

// Row returns a slice (view) of the data of row ii of a rank-2 tensor.
func (t *Tensor) Row(ii int) []float32 {
	t.shape.AssertRank(2)
	width := t.shape.Dimensions[1]
	return t.flat[ii*width : (ii+1)*width]
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: t.shape.Clone(), flat: slices.Clone(t.flat)}
}

// Value returns a multidimensional slice (except if shape is a scalar) containing a copy of the values
// stored in the tensor.
func (t *Tensor) Value() any {
	if t.shape.IsScalar() {
		return t.flat[0]
	}
	pos := 0
	return createSlicesRecursively(t.flat, &pos, t.shape.Dimensions).Interface()
}

func createSlicesRecursively(flat []float32, pos *int, dims []int) reflect.Value {
	if len(dims) == 1 {
		values := slices.Clone(flat[*pos : *pos+dims[0]])
		*pos += dims[0]
		return reflect.ValueOf(values)
	}
	sliceT := reflect.TypeOf([]float32{})
	for range len(dims) - 1 {
		sliceT = reflect.SliceOf(sliceT)
	}
	slice := reflect.MakeSlice(sliceT, dims[0], dims[0])
	for ii := range dims[0] {
		slice.Index(ii).Set(createSlicesRecursively(flat, pos, dims[1:]))
	}
	return slice
}

// Equal checks weather t == otherTensor.
// If the shapes are different it returns false.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	if t == otherTensor {
		return true
	}
	return t.shape.Equal(otherTensor.shape) && slices.Equal(t.flat, otherTensor.flat)
}

// InDelta checks weather Abs(t - otherTensor) < delta for every element.
// If the shapes are different it returns false.
func (t *Tensor) InDelta(otherTensor *Tensor, delta float64) bool {
	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	return xslices.SlicesInDelta(t.flat, otherTensor.flat, delta)
}

// String implements fmt.Stringer, it prints the shape and up to the first 16 values.
func (t *Tensor) String() string {
	const maxValues = 16
	if t == nil {
		return "<nil>"
	}
	if t.Size() <= maxValues {
		return fmt.Sprintf("%s: %v", t.shape, t.Value())
	}
	parts := xslices.Map(t.flat[:maxValues], func(v float32) string { return fmt.Sprintf("%g", v) })
	return fmt.Sprintf("%s: [%s ...]", t.shape, strings.Join(parts, " "))
}
