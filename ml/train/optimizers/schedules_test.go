// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"
	"testing"

	"github.com/koaning/thinc/pkg/support/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineAnnealingSchedule(t *testing.T) {
	schedule := CosineAnnealingSchedule().
		PeriodInSteps(50).
		LearningRate(1.0).
		MinLearningRate(0.001).
		Done()
	for ii := range 100 {
		// Check learning rate is following cosine formulation.
		cycle := float64(ii) / 50.0
		wantLR := (math.Cos((cycle-math.Floor(cycle))*math.Pi) + 1.0) / 2.0
		wantLR = wantLR*(1.0-0.001) + 0.001
		assert.InDelta(t, wantLR, schedule(ii), 1e-9, "step %d", ii)
	}
	assert.InDelta(t, 1.0, schedule(0), 1e-9)
	assert.InDelta(t, 1.0, schedule(50), 1e-9)

	require.Panics(t, func() { CosineAnnealingSchedule().LearningRate(1).Done() })
	require.Panics(t, func() { CosineAnnealingSchedule().PeriodInSteps(10).Done() })

	// Default minimum learning rate.
	schedule = CosineAnnealingSchedule().FromParams(params.New(ParamCosineScheduleSteps, 2, ParamLearningRate, 2.0)).Done()
	assert.InDelta(t, 2.0, schedule(0), 1e-9)
	assert.InDelta(t, 0.5*(2.0-0.002)+0.002, schedule(1), 1e-9)
}

func TestOptimizerWithSchedule(t *testing.T) {
	opt := StochasticGradientDescent().WithSchedule(func(step int) float64 { return float64(step + 1) }).Done()
	weights := []float32{0}
	require.NoError(t, opt.Update(weights, []float32{1}, 1))
	require.NoError(t, opt.Update(weights, []float32{1}, 1))
	assert.Equal(t, []float32{-3}, weights)

	opt, err := FromParams(params.New(ParamOptimizer, "sgd", ParamLearningRate, 1.0, ParamCosineScheduleSteps, 2))
	require.NoError(t, err)
	weights = []float32{0}
	require.NoError(t, opt.Update(weights, []float32{1}, 1))
	assert.InDelta(t, -1.0, weights[0], 1e-6)
}
