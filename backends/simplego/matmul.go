// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/exceptions"
	"github.com/koaning/thinc/types/tensors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// axpy computes y += alpha*x.
func axpy(alpha float32, x, y []float32) {
	if len(x) != len(y) {
		exceptions.Panicf("axpy: x (len=%d) and y (len=%d) must have the same length", len(x), len(y))
	}
	if len(x) == 0 {
		return
	}
	blas32.Axpy(alpha, blas32.Vector{N: len(x), Inc: 1, Data: x}, blas32.Vector{N: len(y), Inc: 1, Data: y})
}

// scal computes x *= alpha.
func scal(alpha float32, x []float32) {
	if len(x) == 0 {
		return
	}
	blas32.Scal(alpha, blas32.Vector{N: len(x), Inc: 1, Data: x})
}

// general wraps a rank-2 tensor as a blas32.General matrix.
func general(t *tensors.Tensor) blas32.General {
	return blas32.General{Rows: t.Dim(0), Cols: t.Dim(1), Stride: t.Dim(1), Data: t.Flat()}
}

// MatMul implements backends.StandardOps.
func (b *Backend) MatMul(lhs, rhs *tensors.Tensor, transposeLHS, transposeRHS bool) *tensors.Tensor {
	if lhs.Rank() != 2 || rhs.Rank() != 2 {
		exceptions.Panicf("MatMul: operands must be rank-2, got lhs=%s, rhs=%s", lhs.Shape(), rhs.Shape())
	}
	m, lhsK := lhs.Dim(0), lhs.Dim(1)
	tA := blas.NoTrans
	if transposeLHS {
		m, lhsK = lhsK, m
		tA = blas.Trans
	}
	rhsK, n := rhs.Dim(0), rhs.Dim(1)
	tB := blas.NoTrans
	if transposeRHS {
		rhsK, n = n, rhsK
		tB = blas.Trans
	}
	if lhsK != rhsK {
		exceptions.Panicf("MatMul: contracting dimensions don't match, lhs=%s (transposed=%v), rhs=%s (transposed=%v)",
			lhs.Shape(), transposeLHS, rhs.Shape(), transposeRHS)
	}
	output := tensors.Zeros(m, n)
	if m == 0 || n == 0 || lhsK == 0 {
		return output
	}
	blas32.Gemm(tA, tB, 1, general(lhs), general(rhs), 0, general(output))
	return output
}
