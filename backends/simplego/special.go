// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/exceptions"
	"github.com/koaning/thinc/pkg/support/xslices"
	"github.com/koaning/thinc/types/tensors"
)

// Alloc implements backends.Ops.
func (b *Backend) Alloc(dimensions ...int) *tensors.Tensor {
	return tensors.Zeros(dimensions...)
}

// AsArray implements backends.Ops.
func (b *Backend) AsArray(values ...float32) *tensors.Tensor {
	flat := make([]float32, len(values))
	copy(flat, values)
	return tensors.FromFlatDataAndDimensions(flat, len(flat))
}

func checkLengths(opName string, lengths []int, numRows int) {
	total := 0
	for ii, length := range lengths {
		if length < 0 {
			exceptions.Panicf("%s: sequence %d has negative length %d", opName, ii, length)
		}
		total += length
	}
	if total > numRows {
		exceptions.Panicf("%s: lengths %v add up to %d rows, but there are only %d", opName, lengths, total, numRows)
	}
}

// MeanPool implements backends.Ops.
func (b *Backend) MeanPool(x *tensors.Tensor, lengths []int) *tensors.Tensor {
	x.Shape().AssertRank(2)
	numRows, width := x.Dim(0), x.Dim(1)
	checkLengths("MeanPool", lengths, numRows)
	output := tensors.Zeros(len(lengths), width)
	xFlat, outFlat := x.Flat(), output.Flat()
	sums := make([]float64, width)
	start := 0
	for seq, length := range lengths {
		if length > 0 {
			xslices.FillSlice(sums, 0)
			for row := start; row < start+length; row++ {
				for col, v := range xFlat[row*width : (row+1)*width] {
					sums[col] += float64(v)
				}
			}
			outRow := outFlat[seq*width : (seq+1)*width]
			for col := range outRow {
				outRow[col] = float32(sums[col] / float64(length))
			}
		}
		start += length
	}
	return output
}

// BackpropMeanPool implements backends.Ops.
func (b *Backend) BackpropMeanPool(dY *tensors.Tensor, lengths []int, numRows int) *tensors.Tensor {
	dY.Shape().AssertRank(2)
	if dY.Dim(0) != len(lengths) {
		exceptions.Panicf("BackpropMeanPool: dY %s must have one row per sequence, got %d lengths", dY.Shape(), len(lengths))
	}
	checkLengths("BackpropMeanPool", lengths, numRows)
	width := dY.Dim(1)
	dX := tensors.Zeros(numRows, width)
	dYFlat, dXFlat := dY.Flat(), dX.Flat()
	start := 0
	for seq, length := range lengths {
		if length > 0 {
			gradRow := dYFlat[seq*width : (seq+1)*width]
			scale := 1 / float32(length)
			for row := start; row < start+length; row++ {
				axpy(scale, gradRow, dXFlat[row*width:(row+1)*width])
			}
		}
		start += length
	}
	return dX
}

// Dropout implements backends.Ops.
func (b *Backend) Dropout(x *tensors.Tensor, rate float64) (y, mask *tensors.Tensor) {
	if rate < 0 || rate > 1 {
		exceptions.Panicf("Dropout: rate must be in [0, 1], got %g", rate)
	}
	if rate == 0 {
		return x, nil
	}
	mask = tensors.FromShape(x.Shape())
	maskFlat := mask.Flat()
	if rate < 1 {
		keep := float32(1 / (1 - rate))
		b.rngMu.Lock()
		for ii := range maskFlat {
			if b.rng.Float64() >= rate {
				maskFlat[ii] = keep
			}
		}
		b.rngMu.Unlock()
	}
	return b.Mul(x, mask), mask
}
