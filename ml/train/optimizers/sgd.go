// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"github.com/gomlx/exceptions"
	"github.com/koaning/thinc/pkg/support/params"
	"gonum.org/v1/gonum/blas/blas32"
)

// SgdDefaultLearningRate is the default learning rate used by the StochasticGradientDescent optimizer.
const SgdDefaultLearningRate = 0.1

// ParamMomentum is the hyperparameter with the momentum used by SGD. Defaults to 0 (no momentum).
var ParamMomentum = "momentum"

// SGDConfig holds the configuration for the SGD optimizer. Create it with StochasticGradientDescent,
// and once configured call Done.
type SGDConfig struct {
	learningRate    float64
	momentum        float64
	clipStepByValue float64
	useAverages     bool
	schedule        Schedule
	p               params.Params
}

// StochasticGradientDescent creates the configuration of an optimizer that performs SGD, optionally with momentum:
//
//	velocity = momentum * velocity + gradient
//	weights -= learning_rate * velocity
//
// Without momentum this is simply `weights -= learning_rate * gradient`.
func StochasticGradientDescent() *SGDConfig {
	return &SGDConfig{learningRate: SgdDefaultLearningRate}
}

// LearningRate sets the learning rate. Default is SgdDefaultLearningRate.
func (c *SGDConfig) LearningRate(value float64) *SGDConfig {
	c.learningRate = value
	return c
}

// Momentum sets the momentum in [0, 1). Default is 0.
func (c *SGDConfig) Momentum(momentum float64) *SGDConfig {
	c.momentum = momentum
	return c
}

// ClipStepByValue clips each value of the step, after it's scaled by the learning rate, to
// [-value, +value]. Default is 0, which means no clipping.
func (c *SGDConfig) ClipStepByValue(value float64) *SGDConfig {
	c.clipStepByValue = value
	return c
}

// UseAverages enables tracking of the exponential moving average of the weights. See Interface.Averages.
func (c *SGDConfig) UseAverages(useAverages bool) *SGDConfig {
	c.useAverages = useAverages
	return c
}

// WithSchedule sets a learning rate schedule, which takes precedence over the fixed learning rate.
func (c *SGDConfig) WithSchedule(schedule Schedule) *SGDConfig {
	c.schedule = schedule
	return c
}

// FromParams configures the optimizer from the hyperparameters ParamLearningRate, ParamMomentum,
// ParamClipStepByValue, ParamUseAverages and ParamCosineScheduleSteps (and related), if they are set.
// The values set explicitly on the configuration are overwritten.
func (c *SGDConfig) FromParams(p params.Params) *SGDConfig {
	c.momentum = params.GetOr(p, ParamMomentum, c.momentum)
	c.p = p
	return c
}

// Done validates the configuration and returns the optimizer. It panics for invalid values.
func (c *SGDConfig) Done() Interface {
	o := &sgd{
		common:     newCommon(c.learningRate),
		momentum:   c.momentum,
		velocities: make(map[uint64][]float32),
	}
	o.clipStepByValue, o.useAverages, o.schedule = c.clipStepByValue, c.useAverages, c.schedule
	if c.p != nil {
		o.fromParams(c.p)
	}
	o.validate()
	if o.momentum < 0 || o.momentum >= 1 {
		exceptions.Panicf("SGD momentum must be in [0, 1), got %g", o.momentum)
	}
	return o
}

// sgd implements Interface for SGD.
type sgd struct {
	common
	momentum   float64
	velocities map[uint64][]float32
	step       []float32
}

// Update implements Interface.
func (o *sgd) Update(weights, gradients []float32, key uint64) error {
	if err := checkBuffers(weights, gradients); err != nil {
		return err
	}
	direction := gradients
	if o.momentum > 0 {
		velocity, err := state(o.velocities, key, len(weights))
		if err != nil {
			return err
		}
		if len(velocity) > 0 {
			blas32.Scal(float32(o.momentum), vector(velocity))
			blas32.Axpy(1, vector(gradients), vector(velocity))
		}
		direction = velocity
	}
	_, learningRate := o.nextStep(key)
	o.step = append(o.step[:0], direction...)
	if len(o.step) > 0 {
		blas32.Scal(float32(learningRate), vector(o.step))
	}
	o.applyStep(key, weights, gradients, o.step)
	return nil
}

// Clear implements Interface.
func (o *sgd) Clear() {
	o.common.Clear()
	clear(o.velocities)
}
