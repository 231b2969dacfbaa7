// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/koaning/thinc/pkg/support/params"
)

// This file implements learning rate schedules.

// Schedule returns the learning rate for the given step, counting from 0.
type Schedule func(step int) float64

var (
	// ParamCosineScheduleSteps will enable cosine annealing (aka. "cosine schedule")
	// of the learning rate, if set to a value > 0. It defines the number of steps of the
	// period of the cosine annealing schedule.
	// It is very commonly to use the same value as the number of steps being trained.
	ParamCosineScheduleSteps = "cosine_schedule_steps"

	// ParamCosineScheduleMinLearningRate is the minimum value of the learning rate, during
	// cosine annealing schedule.
	// Defaults to 10^-3 * initial learning rate.
	ParamCosineScheduleMinLearningRate = "cosine_annealing_min_learning_rate"
)

// CosineScheduleOptions is returned by CosineAnnealingSchedule to configure the cosine annealing schedule
// strategy. When finished to configure, call `Done`.
type CosineScheduleOptions struct {
	learningRate, minLearningRate float64
	periodNumSteps                int
}

// CosineAnnealingSchedule allows one to set up a cosine annealing schedule for the learning
// rate. See details https://paperswithcode.com/method/cosine-annealing.
//
// This is slightly different in the sense that $T_i$ is fixed to what here is called [PeriodInSteps].
//
// It returns a CosineScheduleOptions that can be configured. When finished configuring call
// `Done` and it will return the Schedule, to be given to an optimizer.
//
// Example with only one cycle (assuming `*flagNumSteps` is the number of training steps):
//
//	schedule := optimizers.CosineAnnealingSchedule().LearningRate(0.01).PeriodInSteps(*flagNumSteps).Done()
//	opt := optimizers.Adam().WithSchedule(schedule).Done()
//
// Or more simply, just pass the hyperparameters (see [ParamCosineScheduleSteps]) to optimizers.FromParams.
func CosineAnnealingSchedule() *CosineScheduleOptions {
	return &CosineScheduleOptions{periodNumSteps: -1}
}

// FromParams configures the cosine annealing from the hyperparameters, using the keys
// [ParamCosineScheduleSteps], [ParamLearningRate] and [ParamCosineScheduleMinLearningRate], if set.
func (opt *CosineScheduleOptions) FromParams(p params.Params) *CosineScheduleOptions {
	opt.periodNumSteps = params.GetOr(p, ParamCosineScheduleSteps, opt.periodNumSteps)
	opt.learningRate = params.GetOr(p, ParamLearningRate, opt.learningRate)
	opt.minLearningRate = params.GetOr(p, ParamCosineScheduleMinLearningRate, opt.minLearningRate)
	return opt
}

// PeriodInSteps sets the number of steps for one period of the cosine schedule. The effective
// learning rate decreases over the given period of training steps, and then is restarted at
// each new period.
//
// It's common to use only one period (so no annealing, just a cosine schedule), in which case
// just set to the number of steps that will be used for training.
//
// The default is -1, which will trigger an exception in Done, so it must be defined.
func (opt *CosineScheduleOptions) PeriodInSteps(periodSteps int) *CosineScheduleOptions {
	opt.periodNumSteps = periodSteps
	return opt
}

// MinLearningRate at the end of the cosine cycle. Defaults to 10^-3 * initial learning rate.
func (opt *CosineScheduleOptions) MinLearningRate(minLearningRate float64) *CosineScheduleOptions {
	opt.minLearningRate = minLearningRate
	return opt
}

// LearningRate at the start of the cosine cycle. It must be set.
func (opt *CosineScheduleOptions) LearningRate(learningRate float64) *CosineScheduleOptions {
	opt.learningRate = learningRate
	return opt
}

// Done finalizes the configuration of CosineAnnealingSchedule and returns the Schedule.
//
// It panics if invalid options are given.
func (opt *CosineScheduleOptions) Done() Schedule {
	if opt.periodNumSteps <= 0 {
		exceptions.Panicf("period of the CosineAnnealingSchedule in number of steps was not set, or set to <= 0")
	}
	lrValue := opt.learningRate
	if lrValue <= 0 {
		exceptions.Panicf("learning rate not configured for CosineAnnealingSchedule")
	}
	lrMinValue := opt.minLearningRate
	if lrMinValue == 0 {
		lrMinValue = lrValue * 1e-3
	}
	period := float64(opt.periodNumSteps)
	return func(step int) float64 {
		cycle := float64(step) / period
		cycle -= math.Floor(cycle) // Take only the fractional part: so always in range `[0.0, 1.0)`.
		lr := (math.Cos(cycle*math.Pi) + 1) / 2
		return lr*(lrValue-lrMinValue) + lrMinValue // Now from lrMin to lrMax
	}
}
