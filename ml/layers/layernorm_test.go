// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"math/rand/v2"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/koaning/thinc/ml/layers/layerstest"
	"github.com/koaning/thinc/ml/model"
	"github.com/koaning/thinc/pkg/support/xslices"
	"github.com/koaning/thinc/types/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayerNormNormalizes(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	ln := LayerNorm(Linear(4, 3)).Done()
	assert.Equal(t, "layernorm(nI=3, nO=4)", ln.String())
	require.True(t, ln.ParamsAllocated())
	assert.Equal(t, []float32{1, 1, 1, 1}, ln.Param("G").Flat())
	assert.Equal(t, []float32{0, 0, 0, 0}, ln.Param("b").Flat())

	// Child is not initialized yet.
	x := randomTensor(rng, 6, 3)
	_, err := ln.Predict(x)
	require.ErrorIs(t, err, model.ErrShapeInference)

	require.NoError(t, ln.Initialize(nil, nil))
	y, err := ln.Predict(x)
	require.NoError(t, err)
	yT := y.(*tensors.Tensor)
	require.Equal(t, []int{6, 4}, yT.Shape().Dimensions)
	for row := range 6 {
		values := yT.Row(row)
		mean := xslices.Sum(values) / 4
		var variance float64
		for _, v := range values {
			variance += (float64(v) - mean) * (float64(v) - mean)
		}
		variance /= 4
		assert.InDelta(t, 0.0, mean, 1e-5, "row %d", row)
		assert.InDelta(t, 1.0, variance, 1e-4, "row %d", row)
	}

	// Scale and shift.
	xslices.FillSlice(ln.Param("G").Flat(), 2)
	xslices.FillSlice(ln.Param("b").Flat(), 1)
	y2, err := ln.Predict(x)
	require.NoError(t, err)
	for ii, v := range y2.(*tensors.Tensor).Flat() {
		require.InDelta(t, 2*yT.Flat()[ii]+1, v, 1e-5)
	}

	// Input with the wrong width.
	_, err = ln.Predict(randomTensor(rng, 6, 5))
	require.ErrorIs(t, err, model.ErrShapeInference)
}

func TestLayerNormInfersWidth(t *testing.T) {
	rng := rand.New(rand.NewPCG(13, 14))

	// From the child's prediction on the sample input.
	ln := LayerNorm(Relu()).Done()
	assert.Equal(t, model.DimUnset, ln.HasDim(DimOutput))
	require.False(t, ln.ParamsAllocated())
	require.NoError(t, ln.Initialize(randomTensor(rng, 2, 5), nil))
	assert.Equal(t, 5, ln.DimOr(DimOutput, 0))
	assert.Equal(t, model.DimUnset, ln.HasDim(DimInput))
	assert.Len(t, ln.Param("G").Flat(), 5)

	// From the sample output.
	ln = LayerNorm(Relu()).Done()
	require.NoError(t, ln.Initialize(nil, randomTensor(rng, 2, 7)))
	assert.Equal(t, 7, ln.DimOr(DimOutput, 0))

	// Explicit.
	ln = LayerNorm(Relu()).OutputDim(3).Done()
	require.True(t, ln.ParamsAllocated())

	// Pushed down to the child.
	child := Linear(0, 2)
	ln = LayerNorm(child).OutputDim(6).Done()
	require.NoError(t, ln.Initialize(nil, nil))
	assert.Equal(t, 6, child.DimOr(DimOutput, 0))
	assert.Equal(t, 2, ln.DimOr(DimInput, 0))

	// Nothing to infer from.
	ln = LayerNorm(Relu()).Done()
	require.ErrorIs(t, ln.Initialize(nil, nil), model.ErrShapeInference)
	_, err := ln.Predict(randomTensor(rng, 2, 5))
	require.ErrorIs(t, err, model.ErrShapeInference)
}

func TestLayerNormReinitialize(t *testing.T) {
	rng := rand.New(rand.NewPCG(15, 16))
	child := Linear(0, 0)
	ln := LayerNorm(child).OutputDim(3).Done()
	x := randomTensor(rng, 4, 2)
	require.NoError(t, ln.Initialize(x, nil))
	assert.Equal(t, 2, ln.DimOr(DimInput, 0))

	xslices.FillSlice(ln.Param("G").Flat(), 3)
	childWeights := append([]float32(nil), child.Weights()...)
	require.NoError(t, ln.Initialize(x, nil))
	assert.Equal(t, []float32{3, 3, 3}, ln.Param("G").Flat())
	assert.Equal(t, childWeights, child.Weights())
}

func TestLayerNormGradient(t *testing.T) {
	rng := rand.New(rand.NewPCG(17, 18))
	ln := LayerNorm(Linear(4, 3)).Done()
	require.NoError(t, ln.Initialize(nil, nil))
	for ii := range ln.Weights() {
		ln.Weights()[ii] = float32(1 + 0.5*rng.NormFloat64())
	}
	layerstest.CheckGradient(t, ln, randomTensor(rng, 5, 3), 2e-2)
}

// recordingOptimizer applies plain SGD with learning rate 1 and records the keys it was called with.
type recordingOptimizer struct {
	keys []uint64
	err  error
}

func (o *recordingOptimizer) Update(weights, gradients []float32, key uint64) error {
	if o.err != nil {
		return o.err
	}
	o.keys = append(o.keys, key)
	for ii := range weights {
		weights[ii] -= gradients[ii]
		gradients[ii] = 0
	}
	return nil
}

func TestLayerNormOptimizer(t *testing.T) {
	rng := rand.New(rand.NewPCG(19, 20))
	newModel := func() *model.Model {
		ln := LayerNorm(Linear(4, 3)).Done()
		require.NoError(t, ln.Initialize(nil, nil))
		return ln
	}
	ln, reference := newModel(), newModel()
	copy(reference.Weights(), ln.Weights())
	copy(reference.Layers()[0].Weights(), ln.Layers()[0].Weights())
	x, dY := randomTensor(rng, 5, 3), randomTensor(rng, 5, 4)

	_, bp, err := reference.Call(x, true)
	require.NoError(t, err)
	want, err := bp.Backprop(dY, nil)
	require.NoError(t, err)

	opt := &recordingOptimizer{}
	_, bp, err = ln.Call(x, true)
	require.NoError(t, err)
	got, err := bp.Backprop(dY, opt)
	require.NoError(t, err)

	// The input gradient is computed with the parameters from before the update.
	assert.True(t, want.(*tensors.Tensor).InDelta(got.(*tensors.Tensor), 1e-5))
	assert.Equal(t, []uint64{ln.ID(), ln.Layers()[0].ID()}, opt.keys)
	assert.Equal(t, make([]float32, 8), ln.Gradients())
	assert.NotEqual(t, reference.Weights(), ln.Weights())

	// Optimizer failures are reported.
	_, bp, err = ln.Call(x, true)
	require.NoError(t, err)
	boom := errors.New("boom")
	_, err = bp.Backprop(dY, &recordingOptimizer{err: boom})
	require.ErrorIs(t, err, boom)
}

func TestLayerNormDropout(t *testing.T) {
	rng := rand.New(rand.NewPCG(21, 22))
	child := Linear(8, 3)
	ln := LayerNorm(child).DropoutRate(0.5).Done()
	require.NoError(t, ln.Initialize(nil, nil))
	assert.Equal(t, 0.5, model.GetAttrOr(ln, AttrDropoutRate, 0.0))
	x := randomTensor(rng, 32, 3)

	// No dropout at inference.
	y, err := ln.Predict(x)
	require.NoError(t, err)
	assert.Zero(t, countZeros(y.(*tensors.Tensor)))

	yTrain, bp, err := ln.Call(x, true)
	require.NoError(t, err)
	assert.Positive(t, countZeros(yTrain.(*tensors.Tensor)))
	dX, err := bp.Backprop(tensors.FromScalarAndDimensions(1, 32, 8), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{32, 3}, dX.(*tensors.Tensor).Shape().Dimensions)

	// The child's drop factor scales the rate.
	child.Attrs().Set(AttrDropFactor, 0.0)
	yTrain, _, err = ln.Call(x, true)
	require.NoError(t, err)
	assert.True(t, y.(*tensors.Tensor).InDelta(yTrain.(*tensors.Tensor), 1e-6))

	require.Panics(t, func() { LayerNorm(nil).Done() })
	require.Panics(t, func() { LayerNorm(Relu()).DropoutRate(1).Done() })
	require.Panics(t, func() { LayerNorm(Relu()).OutputDim(-1).Done() })
}

func TestBuildersPanicWithContext(t *testing.T) {
	err := exceptions.TryCatch[error](func() { LayerNorm(named(Relu(), "my_child")).Epsilon(-1).Done() })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "my_child")

	err = exceptions.TryCatch[error](func() { Linear(-1, 2) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nO=-1")

	// Valid configurations don't panic, and resolve their widths right away.
	var ln *model.Model
	require.NotPanics(t, func() { ln = LayerNorm(Linear(4, 3)).Done() })
	assert.Equal(t, "layernorm(nI=3, nO=4)", ln.String())
	require.NotPanics(t, func() { ln = LayerNorm(Relu()).OutputDim(6).Done() })
	assert.Equal(t, 6, ln.DimOr(DimOutput, 0))
	assert.True(t, ln.ParamsAllocated())
}

func countZeros(tensor *tensors.Tensor) int {
	var count int
	for _, v := range tensor.Flat() {
		if v == 0 {
			count++
		}
	}
	return count
}
