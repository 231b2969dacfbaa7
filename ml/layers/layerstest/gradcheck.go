// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layerstest holds testing helpers for layers.
package layerstest

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/koaning/thinc/ml/model"
	"github.com/koaning/thinc/types/tensors"
	"github.com/stretchr/testify/require"
)

// GradientStep is the perturbation used for the central differences in CheckGradient.
const GradientStep = 1e-2

// CheckGradient compares the gradients computed by the backward pass of m against central finite differences,
// for the input x (a *tensors.Tensor or a *tensors.Ragged) and for every parameter in the model tree.
//
// The loss used is sum(y*r), for a fixed random r, so the gradient fed to the backward pass is r.
// The model must be initialized and deterministic (no dropout).
//
// Values are compared with tolerance `relTolerance * (1 + |numeric|)`.
func CheckGradient(t testing.TB, m *model.Model, x any, relTolerance float64) {
	t.Helper()
	rng := rand.New(rand.NewPCG(42, 7))
	y, bp, err := m.Call(x, true)
	require.NoError(t, err)
	yT, ok := y.(*tensors.Tensor)
	require.Truef(t, ok, "model output must be a *tensors.Tensor, got %T", y)
	r := tensors.Zeros(yT.Shape().Dimensions...)
	for ii := range r.Flat() {
		r.Flat()[ii] = float32(rng.NormFloat64())
	}

	// Analytic gradients: parameter gradients are measured as the difference of the accumulated values.
	type paramBuffers struct {
		node            *model.Model
		before, updated []float32
	}
	var params []*paramBuffers
	require.NoError(t, m.Walk(func(node *model.Model) error {
		if node.ParamsAllocated() && len(node.Weights()) > 0 {
			params = append(params, &paramBuffers{node: node, before: append([]float32(nil), node.Gradients()...)})
		}
		return nil
	}))
	dX, err := bp.Backprop(r, nil)
	require.NoError(t, err)
	for _, p := range params {
		p.updated = append([]float32(nil), p.node.Gradients()...)
	}

	loss := func() float64 {
		y, err := m.Predict(x)
		require.NoError(t, err)
		var total float64
		for ii, v := range y.(*tensors.Tensor).Flat() {
			total += float64(v) * float64(r.Flat()[ii])
		}
		return total
	}
	numericAt := func(flat []float32, ii int) float64 {
		original := flat[ii]
		flat[ii] = original + GradientStep
		plus := loss()
		flat[ii] = original - GradientStep
		minus := loss()
		flat[ii] = original
		// The perturbation actually applied, after float32 rounding.
		step := float64(original+GradientStep) - float64(original-GradientStep)
		return (plus - minus) / step
	}
	check := func(what string, ii int, numeric, analytic float64) {
		require.LessOrEqualf(t, math.Abs(numeric-analytic), relTolerance*(1+math.Abs(numeric)),
			"%s[%d]: numeric gradient %g, backward pass %g", what, ii, numeric, analytic)
	}

	xFlat, dXFlat := flatOf(t, x), flatOf(t, dX)
	require.Len(t, dXFlat, len(xFlat), "gradient of the input has a different size than the input")
	for ii := range xFlat {
		check("input", ii, numericAt(xFlat, ii), float64(dXFlat[ii]))
	}
	for _, p := range params {
		weights := p.node.Weights()
		for ii := range weights {
			check(p.node.Name()+" weights", ii, numericAt(weights, ii), float64(p.updated[ii]-p.before[ii]))
		}
	}
}

func flatOf(t testing.TB, v any) []float32 {
	switch value := v.(type) {
	case *tensors.Tensor:
		return value.Flat()
	case *tensors.Ragged:
		return value.Data.Flat()
	}
	require.Failf(t, "unsupported value", "expected *tensors.Tensor or *tensors.Ragged, got %T", v)
	return nil
}
