// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"slices"

	"github.com/koaning/thinc/types/tensors"
)

// reduceShape splits x's dimensions around axis into (outer, axisDim, inner) and returns the output dimensions.
func reduceShape(x *tensors.Tensor, axis int, keepDims bool) (outer, axisDim, inner int, outputDims []int) {
	shape := x.Shape()
	axis = shape.AdjustAxis(axis)
	outer, inner = 1, 1
	for ii, dim := range shape.Dimensions {
		switch {
		case ii < axis:
			outer *= dim
		case ii > axis:
			inner *= dim
		}
	}
	axisDim = shape.Dimensions[axis]
	outputDims = slices.Clone(shape.Dimensions)
	if keepDims {
		outputDims[axis] = 1
	} else {
		outputDims = slices.Delete(outputDims, axis, axis+1)
	}
	return
}

// reduce calls fn for every (outer, inner) position with the values along axis, and stores its result.
// The values are gathered in a reusable buffer.
func reduce(x *tensors.Tensor, axis int, keepDims bool, fn func(values []float32) float64) *tensors.Tensor {
	outer, axisDim, inner, outputDims := reduceShape(x, axis, keepDims)
	output := tensors.Zeros(outputDims...)
	outFlat, xFlat := output.Flat(), x.Flat()
	values := make([]float32, axisDim)
	for o := range outer {
		for i := range inner {
			base := o*axisDim*inner + i
			for a := range axisDim {
				values[a] = xFlat[base+a*inner]
			}
			outFlat[o*inner+i] = float32(fn(values))
		}
	}
	return output
}

func sum64(values []float32) float64 {
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	return sum
}

func mean64(values []float32) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum64(values) / float64(len(values))
}

// Sum implements backends.StandardOps.
func (b *Backend) Sum(x *tensors.Tensor, axis int, keepDims bool) *tensors.Tensor {
	return reduce(x, axis, keepDims, sum64)
}

// Mean implements backends.StandardOps.
func (b *Backend) Mean(x *tensors.Tensor, axis int, keepDims bool) *tensors.Tensor {
	return reduce(x, axis, keepDims, mean64)
}

// Variance implements backends.StandardOps. It's the population variance, accumulated in float64.
func (b *Backend) Variance(x *tensors.Tensor, axis int, keepDims bool) *tensors.Tensor {
	return reduce(x, axis, keepDims, func(values []float32) float64 {
		if len(values) == 0 {
			return 0
		}
		mean := mean64(values)
		var sumSq float64
		for _, v := range values {
			d := float64(v) - mean
			sumSq += d * d
		}
		return sumSq / float64(len(values))
	})
}
