// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package initializers include several parameter initializers, used when a model allocates its
// parameters.
//
// Random initializers take a *rand.Rand. If it is nil, the package level (concurrency safe) random
// functions of math/rand/v2 are used.
package initializers

import (
	"math"
	"math/rand/v2"

	"github.com/koaning/thinc/pkg/support/xslices"
	"github.com/koaning/thinc/types/tensors"
)

// Initializer fills the given parameter tensor with its initial values, in place.
type Initializer func(t *tensors.Tensor)

var (
	// Zero initializes parameters with zero.
	Zero Initializer = func(t *tensors.Tensor) {
		xslices.FillSlice(t.Flat(), 0)
	}

	// One initializes parameters with one.
	One Initializer = func(t *tensors.Tensor) {
		xslices.FillSlice(t.Flat(), 1)
	}
)

func float64Fn(rng *rand.Rand) func() float64 {
	if rng == nil {
		return rand.Float64
	}
	return rng.Float64
}

func normFn(rng *rand.Rand) func() float64 {
	if rng == nil {
		return rand.NormFloat64
	}
	return rng.NormFloat64
}

// Normal returns an initializer that generates random normal values with the given standard deviation
// and mean set to 0.
func Normal(rng *rand.Rand, stddev float64) Initializer {
	return func(t *tensors.Tensor) {
		next := normFn(rng)
		flat := t.Flat()
		for ii := range flat {
			flat[ii] = float32(next() * stddev)
		}
	}
}

// Uniform returns an initializer that generates random uniform values from [min, max).
func Uniform(rng *rand.Rand, minValue, maxValue float64) Initializer {
	return func(t *tensors.Tensor) {
		next := float64Fn(rng)
		flat := t.Flat()
		for ii := range flat {
			flat[ii] = float32(minValue + next()*(maxValue-minValue))
		}
	}
}

// GlorotUniform returns a Glorot uniform initializer, also called Xavier uniform initializer.
//
// It draws samples from a uniform distribution within `[-limit, limit]`, where
// `limit = sqrt(3 / ((fan_in + fan_out)/2))` (`fan_in` is the number of input units in
// the weight tensor and fan_out is the number of output units).
//
// It initializes biases (anything with rank <= 1) to zeros.
func GlorotUniform(rng *rand.Rand) Initializer {
	return func(t *tensors.Tensor) {
		shape := t.Shape()
		if shape.Rank() <= 1 {
			// Zero-bias.
			Zero(t)
			return
		}
		fanIn, fanOut := computeFanInFanOut(shape.Dimensions)
		scale := max(1.0, float64(fanIn+fanOut)/2.0)
		limit := math.Sqrt(3.0 / scale)
		Uniform(rng, -limit, limit)(t)
	}
}

// computeFanInFanOut of a parameter expected to be the weights of a linear layer, laid out as [nO, nI].
func computeFanInFanOut(dims []int) (fanIn, fanOut int) {
	rank := len(dims)
	switch rank {
	case 0: // Scalar.
		fanIn = 1
		fanOut = fanIn
	case 1: // 1D shape, like a bias term.
		fanIn = 0
		fanOut = fanIn
	default:
		receptiveFieldSize := 1
		for _, dim := range dims[:rank-2] {
			receptiveFieldSize *= dim
		}
		fanOut = dims[rank-2] * receptiveFieldSize
		fanIn = dims[rank-1] * receptiveFieldSize
	}
	return
}
