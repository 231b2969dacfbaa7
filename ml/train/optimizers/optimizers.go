// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizers implements a collection of ML optimizers, that can be used by train.Trainer,
// or directly by the backward pass of a layer. They all implement optimizers.Interface.
//
// Optimizers work on the flat weights and gradients buffers owned by each model, and keep their
// per-model state (moments, velocities, averages, step counts) keyed by the model ID.
package optimizers

import (
	"maps"
	"math"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/koaning/thinc/ml/model"
	"github.com/koaning/thinc/pkg/support/params"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas/blas32"
	"k8s.io/klog/v2"
)

// Interface implemented by optimizer implementations.
type Interface interface {
	// Update applies one optimization step in place to weights, given the accumulated gradients,
	// and then zeroes the gradients. It implements model.Optimizer.
	//
	// key identifies the owner of the weights (usually model.Model.ID), and it's used to keep
	// the optimizer state of each model separate.
	Update(weights, gradients []float32, key uint64) error

	// Averages returns the exponential moving average of the weights for the given key, if UseAverages
	// was configured and the key was updated at least once. Otherwise, it returns nil.
	//
	// The returned slice is owned by the optimizer, and it is updated in place at every step.
	Averages(key uint64) []float32

	// Steps returns the number of updates applied for the given key.
	Steps(key uint64) int

	// Clear deletes all the state kept by the optimizer.
	Clear()
}

var _ model.Optimizer = Interface(nil)

// ErrUnsupportedOptimizer is returned when an optimizer is requested by an unknown name or with
// hyperparameters that match no update rule.
var ErrUnsupportedOptimizer = errors.New("unsupported optimizer configuration")

var (
	// KnownOptimizers is a map of known optimizers by name to their default constructors.
	// This provides an easy quick start point. One can hyperparameter-tune the optimizers
	// for usually slightly better results.
	KnownOptimizers = map[string]func(p params.Params) Interface{
		"sgd":    func(p params.Params) Interface { return StochasticGradientDescent().FromParams(p).Done() },
		"adam":   func(p params.Params) Interface { return Adam().FromParams(p).Done() },
		"adamax": func(p params.Params) Interface { return Adam().Adamax().FromParams(p).Done() },
		"adamw":  func(p params.Params) Interface { return Adam().WeightDecay(0.004).FromParams(p).Done() },
	}

	// ParamOptimizer is the hyperparameter with the name of the optimizer.
	// The default value is "adam", and the valid values are the keys of KnownOptimizers.
	ParamOptimizer = "optimizer"

	// ParamLearningRate is the hyperparameter name for the learning rate.
	// It is used by all optimizers.
	ParamLearningRate = "learning_rate"

	// ParamClipStepByValue is a clip scalar value for each individual value of the gradient step, after
	// being scaled by the learning rate and optimizer.
	// The step applied will be `Clip(step, -clip_step_by_value, +clip_step_by_value)`.
	// Defaults to no clipping, and values are expected to be float64.
	ParamClipStepByValue = "clip_step_by_value"

	// ParamUseAverages enables the tracking of exponential moving averages of the weights. See Interface.Averages.
	ParamUseAverages = "use_averages"
)

// FromParams creates an optimizer from hyperparameters.
//
// If ParamOptimizer is set, the optimizer is selected by name (see ByName). Otherwise, if either of
// ParamBeta1 or ParamBeta2 is set, the optimizer is selected by the betas with ForBetas. Otherwise,
// it defaults to "adam".
func FromParams(p params.Params) (opt Interface, err error) {
	err = exceptions.TryCatch[error](func() {
		optName := params.GetOr(p, ParamOptimizer, "")
		if optName == "" && (p.Has(ParamBeta1) || p.Has(ParamBeta2)) {
			lr := params.GetOr(p, ParamLearningRate, AdamDefaultLearningRate)
			opt, err = ForBetas(lr, params.GetOr(p, ParamBeta1, 0.9), params.GetOr(p, ParamBeta2, 0.999))
			if err == nil {
				withCommonParams(opt, p)
			}
			return
		}
		if optName == "" {
			optName = "adam"
		}
		opt, err = ByName(p, optName)
	})
	return
}

// ByName returns an optimizer given the name, or an error wrapping ErrUnsupportedOptimizer if it
// doesn't exist. It uses KnownOptimizers.
//
// The optimizers read their optional hyperparameters from p, which can be nil.
//
// Example usage:
//
//	var flagOptimizer = flag.String("optimizer", "adamw", fmt.Sprintf("Optimizer, options: %q", slices.Sorted(maps.Keys(optimizers.KnownOptimizers))))
//
//	...
//
//	opt := must.M1(optimizers.ByName(hyperParams, *flagOptimizer))
//	trainer := train.NewTrainer(net, losses.MeanSquaredError, opt)
func ByName(p params.Params, optName string) (Interface, error) {
	optBuilder, found := KnownOptimizers[optName]
	if !found {
		names := slices.Sorted(maps.Keys(KnownOptimizers))
		return nil, errors.Wrapf(ErrUnsupportedOptimizer, "unknown optimizer %q, valid values are %q", optName, names)
	}
	var opt Interface
	err := exceptions.TryCatch[error](func() { opt = optBuilder(p) })
	if err != nil {
		return nil, errors.WithMessagef(err, "configuring optimizer %q", optName)
	}
	return opt, nil
}

// ForBetas selects the update rule from the momentum hyperparameters:
//
//   - beta1 != 0 and beta2 != 0: Adam with the given betas.
//   - beta2 == 0: SGD with momentum beta1 (plain SGD if beta1 is also 0).
//   - otherwise (beta1 == 0 with beta2 != 0): an error wrapping ErrUnsupportedOptimizer.
func ForBetas(learningRate, beta1, beta2 float64) (opt Interface, err error) {
	if beta1 == 0 && beta2 != 0 {
		return nil, errors.Wrapf(ErrUnsupportedOptimizer, "no update rule for beta1=%g and beta2=%g", beta1, beta2)
	}
	err = exceptions.TryCatch[error](func() {
		if beta2 == 0 {
			opt = StochasticGradientDescent().LearningRate(learningRate).Momentum(beta1).Done()
		} else {
			opt = Adam().LearningRate(learningRate).Betas(beta1, beta2).Done()
		}
	})
	return
}

// withCommonParams applies the hyperparameters shared by all optimizers to an already built optimizer.
func withCommonParams(opt Interface, p params.Params) {
	var c *common
	switch o := opt.(type) {
	case *sgd:
		c = &o.common
	case *adam:
		c = &o.common
	default:
		return
	}
	c.fromParams(p)
}

// common holds the configuration and state shared by all optimizers.
type common struct {
	learningRate    float64
	schedule        Schedule
	clipStepByValue float64
	useAverages     bool

	steps    map[uint64]int
	averages map[uint64][]float32
}

func newCommon(learningRate float64) common {
	return common{
		learningRate: learningRate,
		steps:        make(map[uint64]int),
		averages:     make(map[uint64][]float32),
	}
}

func (c *common) fromParams(p params.Params) {
	c.learningRate = params.GetOr(p, ParamLearningRate, c.learningRate)
	c.clipStepByValue = params.GetOr(p, ParamClipStepByValue, c.clipStepByValue)
	c.useAverages = params.GetOr(p, ParamUseAverages, c.useAverages)
	if periodSteps := params.GetOr(p, ParamCosineScheduleSteps, 0); periodSteps > 0 {
		c.schedule = CosineAnnealingSchedule().LearningRate(c.learningRate).FromParams(p).Done()
	}
}

func (c *common) validate() {
	if c.learningRate <= 0 {
		exceptions.Panicf("optimizer learning rate must be > 0, got %g", c.learningRate)
	}
	if c.clipStepByValue < 0 {
		exceptions.Panicf("optimizer %q must be >= 0, got %g", ParamClipStepByValue, c.clipStepByValue)
	}
}

// Averages implements Interface.
func (c *common) Averages(key uint64) []float32 {
	return c.averages[key]
}

// Steps implements Interface.
func (c *common) Steps(key uint64) int {
	return c.steps[key]
}

// Clear implements Interface.
func (c *common) Clear() {
	clear(c.steps)
	clear(c.averages)
}

// checkBuffers validates the arguments of Update.
func checkBuffers(weights, gradients []float32) error {
	if len(weights) != len(gradients) {
		return errors.Errorf("optimizer: weights (len=%d) and gradients (len=%d) must have the same length",
			len(weights), len(gradients))
	}
	return nil
}

// nextStep increments the step count for key and returns the learning rate to use in that step.
func (c *common) nextStep(key uint64) (step int, learningRate float64) {
	c.steps[key]++
	step = c.steps[key]
	learningRate = c.learningRate
	if c.schedule != nil {
		learningRate = c.schedule(step - 1)
	}
	klog.V(2).Infof("optimizer: key=%d step=%d learning_rate=%g", key, step, learningRate)
	return
}

// applyStep subtracts step (already scaled by the learning rate) from the weights, zeroes the gradients
// and updates the averages.
func (c *common) applyStep(key uint64, weights, gradients, step []float32) {
	if c.clipStepByValue > 0 {
		clipValue := float32(c.clipStepByValue)
		for ii, v := range step {
			step[ii] = max(-clipValue, min(clipValue, v))
		}
	}
	if len(weights) > 0 {
		blas32.Axpy(-1, vector(step), vector(weights))
	}
	clear(gradients)
	if c.useAverages {
		c.updateAverages(key, weights)
	}
}

// updateAverages updates the exponential moving average of the weights, with a decay that
// grows with the number of updates: (1+t)/(10+t), capped at 0.9999.
func (c *common) updateAverages(key uint64, weights []float32) {
	averages, found := c.averages[key]
	if !found || len(averages) != len(weights) {
		c.averages[key] = slices.Clone(weights)
		return
	}
	t := float64(c.steps[key])
	decay := float32(math.Min((1+t)/(10+t), 0.9999))
	for ii, w := range weights {
		averages[ii] -= (1 - decay) * (averages[ii] - w)
	}
}

// state returns the per-key state buffer of the given length, creating it (zero-initialized) if needed.
func state(buffers map[uint64][]float32, key uint64, size int) ([]float32, error) {
	buffer, found := buffers[key]
	if !found {
		buffer = make([]float32, size)
		buffers[key] = buffer
		return buffer, nil
	}
	if len(buffer) != size {
		return nil, errors.Errorf("optimizer: key %d was previously updated with %d weights, got %d now",
			key, len(buffer), size)
	}
	return buffer, nil
}

// resize returns buffer with length size, reusing its storage if possible. Contents are not preserved.
func resize(buffer []float32, size int) []float32 {
	if cap(buffer) < size {
		return make([]float32, size)
	}
	return buffer[:size]
}

func vector(data []float32) blas32.Vector {
	return blas32.Vector{N: len(data), Inc: 1, Data: data}
}
