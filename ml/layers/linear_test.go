// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/koaning/thinc/ml/layers/layerstest"
	"github.com/koaning/thinc/ml/model"
	"github.com/koaning/thinc/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinear(t *testing.T) {
	m := Linear(2, 3)
	assert.Equal(t, "linear(nO=2, nI=3)", m.String())
	_, err := m.Predict(tensors.Zeros(1, 3))
	require.ErrorIs(t, err, model.ErrShapeInference)

	require.NoError(t, m.Initialize(nil, nil))
	assert.Equal(t, []float32{0, 0}, m.Param("b").Flat())
	copy(m.Param("W").Flat(), []float32{1, 2, 3, 4, 5, 6})
	copy(m.Param("b").Flat(), []float32{1, -1})

	x := tensors.FromValue([][]float32{{1, 0, 0}, {0, 1, 1}})
	y, bp, err := m.Call(x, true)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 3}, {6, 10}}, y.(*tensors.Tensor).Value())

	dX, err := bp.Backprop(tensors.FromValue([][]float32{{1, 0}, {0, 1}}), nil)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, dX.(*tensors.Tensor).Value())
	assert.Equal(t, [][]float32{{1, 0, 0}, {0, 1, 1}}, m.Grad("W").Value())
	assert.Equal(t, []float32{1, 1}, m.Grad("b").Flat())

	_, err = m.Predict(tensors.Zeros(2, 4))
	require.ErrorIs(t, err, model.ErrShapeInference)
	_, err = m.Predict(tensors.Zeros(3))
	require.ErrorIs(t, err, model.ErrShapeInference)

	_, bp, err = m.Call(x, true)
	require.NoError(t, err)
	_, err = bp.Backprop(tensors.Zeros(3, 2), nil)
	require.ErrorIs(t, err, model.ErrShapeInference)

	require.Panics(t, func() { Linear(-1, 2) })
}

func TestLinearWithRand(t *testing.T) {
	newWeights := func(seed uint64) []float32 {
		m := LinearWithRand(4, 3, rand.New(rand.NewPCG(seed, seed)))
		require.NoError(t, m.Initialize(nil, nil))
		return m.Param("W").Flat()
	}
	assert.Equal(t, newWeights(1), newWeights(1))
	assert.NotEqual(t, newWeights(1), newWeights(2))
	for _, w := range newWeights(1) {
		assert.LessOrEqual(t, math.Abs(float64(w)), math.Sqrt(3.0/3.5)+1e-6)
	}
}

func TestLinearGradient(t *testing.T) {
	rng := rand.New(rand.NewPCG(23, 24))
	m := Linear(0, 0)
	x := randomTensor(rng, 4, 3)
	require.NoError(t, m.Initialize(x, randomTensor(rng, 4, 5)))
	assert.Equal(t, 3, m.DimOr(DimInput, 0))
	assert.Equal(t, 5, m.DimOr(DimOutput, 0))
	layerstest.CheckGradient(t, m, x, 1e-2)
}

func TestRelu(t *testing.T) {
	m := Relu()
	require.NoError(t, m.Initialize(nil, nil))
	assert.Empty(t, m.Dims())
	x := tensors.FromValue([][]float32{{-1, 2}, {3, -4}})
	y, bp, err := m.Call(x, true)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 2}, {3, 0}}, y.(*tensors.Tensor).Value())
	dX, err := bp.Backprop(tensors.FromValue([][]float32{{5, 6}, {7, 8}}), nil)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 6}, {7, 0}}, dX.(*tensors.Tensor).Value())

	_, bp, err = m.Call(x, true)
	require.NoError(t, err)
	_, err = bp.Backprop(tensors.Zeros(2, 3), nil)
	require.ErrorIs(t, err, model.ErrShapeInference)

	_, err = m.Predict("not a tensor")
	require.Error(t, err)
}
