// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/koaning/thinc/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromValue(t *testing.T) {
	tensor := FromValue([][]float32{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, tensor.Shape().Check(dtypes.Float32, 2, 3))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Flat())
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, tensor.Value())
	assert.Equal(t, float32(6), tensor.At(1, 2))
	assert.Equal(t, []float32{4, 5, 6}, tensor.Row(1))
	assert.Equal(t, 3, tensor.Dim(-1))

	scalar := FromValue(float32(7))
	assert.True(t, scalar.Shape().IsScalar())
	assert.Equal(t, float32(7), scalar.Value())

	rank3 := FromValue([][][]float64{{{1}, {2}}, {{3}, {4}}})
	assert.Equal(t, []int{2, 2, 1}, rank3.Shape().Dimensions)
	assert.Equal(t, [][][]float32{{{1}, {2}}, {{3}, {4}}}, rank3.Value())

	require.Panics(t, func() { FromValue([][]float32{{1, 2}, {3}}) })
	require.Panics(t, func() { FromValue([]int{1}) })
	require.Panics(t, func() { FromValue([]float32{}) })
	require.Same(t, tensor, FromValue(tensor))
}

func TestFlatDataIsShared(t *testing.T) {
	buf := make([]float32, 6)
	view := FromFlatDataAndDimensions(buf[2:6], 2, 2)
	view.Flat()[3] = 11
	assert.Equal(t, float32(11), buf[5])
	require.Panics(t, func() { FromFlatDataAndDimensions(buf, 4) })

	clone := view.Clone()
	clone.Flat()[0] = 3
	assert.Equal(t, float32(0), buf[2])
	assert.True(t, view.InDelta(view.Reshape(2, 2), 0))
	assert.False(t, view.InDelta(clone, 1e-3))
	assert.True(t, view.Equal(FromFlatDataAndDimensions([]float32{0, 0, 0, 11}, 2, 2)))
}

func TestZeroSize(t *testing.T) {
	empty := Zeros(0, 3)
	assert.Equal(t, 0, empty.Size())
	assert.Equal(t, [][]float32{}, empty.Value())
	require.Panics(t, func() { FromShape(shapes.Make(dtypes.Int32, 2)) })
	assert.Equal(t, []float32{2, 2}, FromScalarAndDimensions(2, 2).Flat())
}

func TestRagged(t *testing.T) {
	data := Zeros(6, 2)
	r, err := NewRagged(data, []int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, r.Starts())
	assert.Equal(t, 2, r.NumSequences())
	assert.Equal(t, data.Shape(), r.Shape())

	_, err = NewRagged(data, []int{4, 3})
	require.Error(t, err)
	_, err = NewRagged(data, []int{-1})
	require.Error(t, err)
	_, err = NewRagged(Zeros(6), []int{1})
	require.Error(t, err)

	clone := r.Clone()
	clone.Lengths[0] = 1
	assert.Equal(t, 2, r.Lengths[0])
}
