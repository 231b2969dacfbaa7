// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/koaning/thinc/types/tensors"
)

// Ops is the API that needs to be implemented by an array backend.
//
// All operations work on float32 tensors and return newly allocated tensors, except AddTo which
// accumulates in place. Invalid shapes make the operations panic (see github.com/gomlx/exceptions).
type Ops interface {
	// Name returns the short name of the backend. E.g.: "go" for the SimpleGo backend.
	Name() string

	// Description is a longer description of the backend that can be used to pretty-print.
	Description() string

	// Alloc returns a zero-initialized tensor with the given dimensions.
	Alloc(dimensions ...int) *tensors.Tensor

	// AsArray builds a rank-1 tensor from the given literal values.
	AsArray(values ...float32) *tensors.Tensor

	StandardOps

	// MeanPool reduces each sequence of the ragged batch to the mean of its rows.
	// The output has shape [len(lengths), width]. Rows of x beyond sum(lengths) are ignored, and
	// empty sequences produce a zero row.
	MeanPool(x *tensors.Tensor, lengths []int) *tensors.Tensor

	// BackpropMeanPool distributes each row of dY evenly over the rows of its sequence: each valid row
	// receives dY[i]/lengths[i]. The output has numRows rows; rows beyond sum(lengths) get zero.
	BackpropMeanPool(dY *tensors.Tensor, lengths []int, numRows int) *tensors.Tensor

	// Dropout zeroes each element of x with probability rate and scales the survivors by 1/(1-rate).
	// It returns the result and the mask that was applied (already scaled), so the backward pass is dY*mask.
	// If rate is 0 it returns x unchanged and a nil mask.
	Dropout(x *tensors.Tensor, rate float64) (y, mask *tensors.Tensor)

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// StandardOps lists the generic elementwise, reduction and linear algebra operations.
type StandardOps interface {
	// Add returns lhs+rhs. Operands must have the same rank, and axes of dimension 1 (or scalars)
	// are broadcast.
	Add(lhs, rhs *tensors.Tensor) *tensors.Tensor

	// Sub returns lhs-rhs, with the same broadcasting rules as Add.
	Sub(lhs, rhs *tensors.Tensor) *tensors.Tensor

	// Mul returns lhs*rhs elementwise, with the same broadcasting rules as Add.
	Mul(lhs, rhs *tensors.Tensor) *tensors.Tensor

	// Div returns lhs/rhs elementwise, with the same broadcasting rules as Add.
	Div(lhs, rhs *tensors.Tensor) *tensors.Tensor

	// AddTo accumulates src into dst in place. They must have the same shape.
	AddTo(dst, src *tensors.Tensor)

	// AddScalar returns x+scalar.
	AddScalar(x *tensors.Tensor, scalar float64) *tensors.Tensor

	// MulScalar returns x*scalar.
	MulScalar(x *tensors.Tensor, scalar float64) *tensors.Tensor

	// PowScalar returns x^exponent elementwise.
	PowScalar(x *tensors.Tensor, exponent float64) *tensors.Tensor

	// Sum reduces x over the given axis (negative axes count from the end).
	// If keepDims is true the reduced axis is kept with dimension 1.
	Sum(x *tensors.Tensor, axis int, keepDims bool) *tensors.Tensor

	// Mean reduces x over the given axis, see Sum.
	Mean(x *tensors.Tensor, axis int, keepDims bool) *tensors.Tensor

	// Variance returns the population variance (not sample-corrected) of x over the given axis, see Sum.
	Variance(x *tensors.Tensor, axis int, keepDims bool) *tensors.Tensor

	// MatMul multiplies two rank-2 tensors, optionally transposing either operand first.
	MatMul(lhs, rhs *tensors.Tensor, transposeLHS, transposeRHS bool) *tensors.Tensor

	// Relu returns max(x, 0).
	Relu(x *tensors.Tensor) *tensors.Tensor

	// BackpropRelu returns dY masked by y > 0, where y is the output of Relu.
	BackpropRelu(dY, y *tensors.Tensor) *tensors.Tensor
}
