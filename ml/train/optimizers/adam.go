// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/koaning/thinc/pkg/support/params"
	"github.com/pkg/errors"
)

const (
	// AdamDefaultLearningRate is used by Adam if no learning rate is set.
	AdamDefaultLearningRate = 0.001
)

var (
	// ParamBeta1 is the hyperparameter for the exponential decay of the 1st moment (or the SGD momentum,
	// see ForBetas).
	ParamBeta1 = "beta1"

	// ParamBeta2 is the hyperparameter for the exponential decay of the 2nd moment.
	ParamBeta2 = "beta2"

	// ParamEpsilon is the hyperparameter with the small constant added to Adam's denominator.
	ParamEpsilon = "epsilon"

	// ParamWeightDecay is the hyperparameter with AdamW's weight decay.
	ParamWeightDecay = "weight_decay"
)

// Adam optimization is a stochastic gradient descent method that is based on adaptive estimation of first-order and
// second-order moments. According to [Kingma et al., 2014](http://arxiv.org/abs/1412.6980),
// the method is "*computationally efficient, has little memory requirement, invariant to diagonal rescaling of
// gradients, and is well suited for problems that are large in terms of data/parameters*".
//
// It returns a configuration object that can be used to set its parameters. Once configured call Done, and it
// will return an optimizers.Interface.
func Adam() *AdamConfig {
	return &AdamConfig{
		learningRate: AdamDefaultLearningRate,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-7,
	}
}

// AdamConfig holds the configuration for an Adam configuration, create using Adam(), and once configured
// call Done to create an Adam based optimizers.Interface.
type AdamConfig struct {
	learningRate    float64
	beta1, beta2    float64
	epsilon         float64
	adamax          bool    // Works as Adamax.
	weightDecay     float64 // Works as AdamW.
	clipStepByValue float64
	useAverages     bool
	schedule        Schedule
	p               params.Params
}

// LearningRate sets the base learning rate. Default is AdamDefaultLearningRate.
func (c *AdamConfig) LearningRate(value float64) *AdamConfig {
	c.learningRate = value
	return c
}

// Betas sets the two moving averages constants (exponential decays). They default to 0.9 and 0.999.
func (c *AdamConfig) Betas(beta1, beta2 float64) *AdamConfig {
	c.beta1, c.beta2 = beta1, beta2
	return c
}

// Epsilon used on the denominator as a small constant for stability.
func (c *AdamConfig) Epsilon(epsilon float64) *AdamConfig {
	c.epsilon = epsilon
	return c
}

// Adamax configure Adam to use a L-infinity (== max, which gives the name) for
// the second moment, instead of L2, as described in the same Adam paper.
func (c *AdamConfig) Adamax() *AdamConfig {
	c.adamax = true
	return c
}

// WeightDecay configure optimizer to work as AdamW, with the given static weight decay.
// This is because L2 regularization doesn't work well with Adam.
func (c *AdamConfig) WeightDecay(weightDecay float64) *AdamConfig {
	c.weightDecay = weightDecay
	return c
}

// ClipStepByValue clips each value of the step, after it's scaled by the learning rate, to
// [-value, +value]. Default is 0, which means no clipping.
func (c *AdamConfig) ClipStepByValue(value float64) *AdamConfig {
	c.clipStepByValue = value
	return c
}

// UseAverages enables tracking of the exponential moving average of the weights. See Interface.Averages.
func (c *AdamConfig) UseAverages(useAverages bool) *AdamConfig {
	c.useAverages = useAverages
	return c
}

// WithSchedule sets a learning rate schedule, which takes precedence over the fixed learning rate.
func (c *AdamConfig) WithSchedule(schedule Schedule) *AdamConfig {
	c.schedule = schedule
	return c
}

// FromParams configures the optimizer from the hyperparameters ParamLearningRate, ParamBeta1, ParamBeta2,
// ParamEpsilon, ParamWeightDecay, ParamClipStepByValue, ParamUseAverages and ParamCosineScheduleSteps
// (and related), if they are set.
func (c *AdamConfig) FromParams(p params.Params) *AdamConfig {
	c.beta1 = params.GetOr(p, ParamBeta1, c.beta1)
	c.beta2 = params.GetOr(p, ParamBeta2, c.beta2)
	c.epsilon = params.GetOr(p, ParamEpsilon, c.epsilon)
	c.weightDecay = params.GetOr(p, ParamWeightDecay, c.weightDecay)
	c.p = p
	return c
}

// Done will finish the configuration and construct an optimizers.Interface that implements Adam to specification.
// It panics for invalid values.
func (c *AdamConfig) Done() Interface {
	if c.beta1 < 0 || c.beta1 >= 1 || c.beta2 < 0 || c.beta2 >= 1 {
		exceptions.Panicf("Adam betas must be in [0, 1), got beta1=%g, beta2=%g", c.beta1, c.beta2)
	}
	if c.epsilon <= 0 || c.weightDecay < 0 {
		exceptions.Panicf("Adam epsilon must be > 0 and weight decay >= 0, got epsilon=%g, weightDecay=%g",
			c.epsilon, c.weightDecay)
	}
	o := &adam{
		common:  newCommon(c.learningRate),
		config:  *c,
		moments: make(map[uint64]*adamMoments),
	}
	o.clipStepByValue, o.useAverages, o.schedule = c.clipStepByValue, c.useAverages, c.schedule
	if c.p != nil {
		o.fromParams(c.p)
	}
	o.validate()
	return o
}

// adam implements the Adam algorithm as an optimizers.Interface.
type adam struct {
	common
	config  AdamConfig
	moments map[uint64]*adamMoments
	step    []float32
}

// adamMoments holds the 1st and 2nd order moments of the gradients for one model.
// If adamax is set, moment2 stores instead the L-infinity (the max) of the gradient.
type adamMoments struct {
	moment1, moment2 []float32
}

// Update implements Interface.
func (o *adam) Update(weights, gradients []float32, key uint64) error {
	if err := checkBuffers(weights, gradients); err != nil {
		return err
	}
	moments, found := o.moments[key]
	if !found {
		moments = &adamMoments{moment1: make([]float32, len(weights)), moment2: make([]float32, len(weights))}
		o.moments[key] = moments
	} else if len(moments.moment1) != len(weights) {
		return errors.Errorf("Adam: key %d was previously updated with %d weights, got %d now",
			key, len(moments.moment1), len(weights))
	}
	adamStep, learningRate := o.nextStep(key)

	cfg := &o.config
	beta1, beta2 := cfg.beta1, cfg.beta2
	debiasTermBeta1 := 1 / (1 - math.Pow(beta1, float64(adamStep)))
	debiasTermBeta2 := 1 / (1 - math.Pow(beta2, float64(adamStep)))
	o.step = resize(o.step, len(weights))
	for ii, grad64 := range gradients {
		grad := float64(grad64)
		moment1 := beta1*float64(moments.moment1[ii]) + (1-beta1)*grad
		moments.moment1[ii] = float32(moment1)

		var denominator float64
		if cfg.adamax {
			moment2 := math.Max(beta2*float64(moments.moment2[ii]), math.Abs(grad)) // L-infinity norm.
			moments.moment2[ii] = float32(moment2)
			denominator = moment2 + cfg.epsilon
		} else {
			moment2 := beta2*float64(moments.moment2[ii]) + (1-beta2)*grad*grad
			moments.moment2[ii] = float32(moment2)
			denominator = math.Sqrt(moment2*debiasTermBeta2) + cfg.epsilon
		}
		direction := moment1 * debiasTermBeta1 / denominator
		if cfg.weightDecay > 0 {
			direction += cfg.weightDecay * float64(weights[ii])
		}
		o.step[ii] = float32(learningRate * direction)
	}
	o.applyStep(key, weights, gradients, o.step)
	return nil
}

// Clear implements Interface.
func (o *adam) Clear() {
	o.common.Clear()
	clear(o.moments)
}
