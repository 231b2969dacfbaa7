// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/koaning/thinc/types/shapes"
	"github.com/koaning/thinc/types/tensors"
)

// broadcastIterator allows one to iterate over the flat indices of tensor that is being broadcast,
// where some dimensions will grow.
type broadcastIterator struct {
	flatIdx     int
	perAxesIdx  []int
	targetDims  []int
	isBroadcast []bool
	strides     []int
	isScalar    bool
}

// newBroadcastIterator returns an iterator that allows one to iterate over the flat indices of a tensor that is being broadcast.
//
// Pre-requisite: fromShape.Rank() == toShape.Rank(), or fromShape is a scalar.
func newBroadcastIterator(fromShape, toShape shapes.Shape) *broadcastIterator {
	if fromShape.IsScalar() || fromShape.Size() == 1 {
		return &broadcastIterator{isScalar: true}
	}
	rank := fromShape.Rank()
	if rank != toShape.Rank() {
		exceptions.Panicf("broadcastIterator: rank mismatch fromShape=%s, toShape=%s", fromShape, toShape)
	}
	bi := &broadcastIterator{
		perAxesIdx:  make([]int, rank),
		targetDims:  toShape.Dimensions,
		isBroadcast: make([]bool, rank),
		strides:     fromShape.Strides(),
	}
	for axis := range rank {
		bi.isBroadcast[axis] = fromShape.Dimensions[axis] != toShape.Dimensions[axis]
	}
	return bi
}

func (bi *broadcastIterator) Next() (flatIdx int) {
	if bi.isScalar {
		return 0
	}
	flatIdx = bi.flatIdx
	bi.flatIdx++
	rank := len(bi.perAxesIdx)
	for axis := rank - 1; axis >= 0; axis-- {
		bi.perAxesIdx[axis]++
		if bi.perAxesIdx[axis] < bi.targetDims[axis] {
			if bi.isBroadcast[axis] {
				// If we are broadcasting on this axis, we need to go back and repeat the same slice of the tensor.
				bi.flatIdx -= bi.strides[axis]
			}
			break
		}
		bi.perAxesIdx[axis] = 0
	}
	return
}

// broadcastShapes returns the shape resulting from broadcasting lhs and rhs, or panics if they are not compatible.
func broadcastShapes(opName string, lhs, rhs shapes.Shape) shapes.Shape {
	if lhs.IsScalar() {
		return rhs.Clone()
	}
	if rhs.IsScalar() {
		return lhs.Clone()
	}
	if lhs.Rank() != rhs.Rank() {
		exceptions.Panicf("%s: operands must have the same rank (or be scalars) for broadcasting, got lhs=%s, rhs=%s", opName, lhs, rhs)
	}
	dims := make([]int, lhs.Rank())
	for axis := range dims {
		l, r := lhs.Dimensions[axis], rhs.Dimensions[axis]
		switch {
		case l == r:
			dims[axis] = l
		case l == 1:
			dims[axis] = r
		case r == 1:
			dims[axis] = l
		default:
			exceptions.Panicf("%s: incompatible dimensions on axis %d for broadcasting, got lhs=%s, rhs=%s", opName, axis, lhs, rhs)
		}
	}
	return shapes.Make(dtypes.Float32, dims...)
}

func (b *Backend) binaryOp(opName string, lhs, rhs *tensors.Tensor, fn func(l, r float32) float32) *tensors.Tensor {
	outputShape := broadcastShapes(opName, lhs.Shape(), rhs.Shape())
	output := tensors.FromShape(outputShape)
	outFlat, lhsFlat, rhsFlat := output.Flat(), lhs.Flat(), rhs.Flat()
	if lhs.Shape().Equal(outputShape) && rhs.Shape().Equal(outputShape) {
		// Fast path: no broadcasting.
		b.workers.ParallelFor(len(outFlat), func(start, end int) {
			for ii := start; ii < end; ii++ {
				outFlat[ii] = fn(lhsFlat[ii], rhsFlat[ii])
			}
		})
		return output
	}
	lhsIter := newBroadcastIterator(lhs.Shape(), outputShape)
	rhsIter := newBroadcastIterator(rhs.Shape(), outputShape)
	for ii := range outFlat {
		outFlat[ii] = fn(lhsFlat[lhsIter.Next()], rhsFlat[rhsIter.Next()])
	}
	return output
}

// Add implements backends.StandardOps.
func (b *Backend) Add(lhs, rhs *tensors.Tensor) *tensors.Tensor {
	return b.binaryOp("Add", lhs, rhs, func(l, r float32) float32 { return l + r })
}

// Sub implements backends.StandardOps.
func (b *Backend) Sub(lhs, rhs *tensors.Tensor) *tensors.Tensor {
	return b.binaryOp("Sub", lhs, rhs, func(l, r float32) float32 { return l - r })
}

// Mul implements backends.StandardOps.
func (b *Backend) Mul(lhs, rhs *tensors.Tensor) *tensors.Tensor {
	return b.binaryOp("Mul", lhs, rhs, func(l, r float32) float32 { return l * r })
}

// Div implements backends.StandardOps.
func (b *Backend) Div(lhs, rhs *tensors.Tensor) *tensors.Tensor {
	return b.binaryOp("Div", lhs, rhs, func(l, r float32) float32 { return l / r })
}

// AddTo implements backends.StandardOps.
func (b *Backend) AddTo(dst, src *tensors.Tensor) {
	if !dst.Shape().Equal(src.Shape()) {
		exceptions.Panicf("AddTo: dst %s and src %s must have the same shape", dst.Shape(), src.Shape())
	}
	axpy(1, src.Flat(), dst.Flat())
}

func (b *Backend) unaryOp(x *tensors.Tensor, fn func(v float32) float32) *tensors.Tensor {
	output := tensors.FromShape(x.Shape())
	outFlat, xFlat := output.Flat(), x.Flat()
	b.workers.ParallelFor(len(outFlat), func(start, end int) {
		for ii := start; ii < end; ii++ {
			outFlat[ii] = fn(xFlat[ii])
		}
	})
	return output
}

// AddScalar implements backends.StandardOps.
func (b *Backend) AddScalar(x *tensors.Tensor, scalar float64) *tensors.Tensor {
	s := float32(scalar)
	return b.unaryOp(x, func(v float32) float32 { return v + s })
}

// MulScalar implements backends.StandardOps.
func (b *Backend) MulScalar(x *tensors.Tensor, scalar float64) *tensors.Tensor {
	output := x.Clone()
	scal(float32(scalar), output.Flat())
	return output
}

// PowScalar implements backends.StandardOps.
func (b *Backend) PowScalar(x *tensors.Tensor, exponent float64) *tensors.Tensor {
	switch exponent {
	case 1:
		return x.Clone()
	case 2:
		return b.unaryOp(x, func(v float32) float32 { return v * v })
	case -0.5:
		return b.unaryOp(x, func(v float32) float32 { return float32(1 / math.Sqrt(float64(v))) })
	case -1:
		return b.unaryOp(x, func(v float32) float32 { return 1 / v })
	}
	return b.unaryOp(x, func(v float32) float32 { return float32(math.Pow(float64(v), exponent)) })
}

// Relu implements backends.StandardOps.
func (b *Backend) Relu(x *tensors.Tensor) *tensors.Tensor {
	return b.unaryOp(x, func(v float32) float32 { return max(v, 0) })
}

// BackpropRelu implements backends.StandardOps.
func (b *Backend) BackpropRelu(dY, y *tensors.Tensor) *tensors.Tensor {
	if !dY.Shape().Equal(y.Shape()) {
		exceptions.Panicf("BackpropRelu: dY %s and y %s must have the same shape", dY.Shape(), y.Shape())
	}
	return b.binaryOp("BackpropRelu", dY, y, func(g, v float32) float32 {
		if v > 0 {
			return g
		}
		return 0
	})
}
