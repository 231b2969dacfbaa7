// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package train holds the Trainer, which runs one forward, backward and optimizer step at a time, and the
// Loop, which iterates a Dataset over the Trainer and calls hooks (progress bars, checkpoints, etc.) along
// the way.
package train

import (
	"io"
	"math"

	"github.com/koaning/thinc/ml/model"
	"github.com/koaning/thinc/ml/train/losses"
	"github.com/koaning/thinc/ml/train/metrics"
	"github.com/koaning/thinc/ml/train/optimizers"
	"github.com/koaning/thinc/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrNonFiniteLoss is returned by Trainer.TrainStep when the loss is NaN or infinite. The model
// is left untouched in that case.
var ErrNonFiniteLoss = errors.New("loss is not finite")

// Trainer trains a model with a loss function and an optimizer, one batch at a time.
type Trainer struct {
	model      *model.Model
	lossFn     losses.LossFn
	optimizer  optimizers.Interface
	globalStep int

	trainMetrics, evalMetrics []metrics.Interface
}

// NewTrainer creates a Trainer for the given model.
//
// The model should be initialized (see model.Model.Initialize) before the first step.
//
// The train metrics always start with the "batch loss" and the "moving average loss", followed by
// extraTrainMetrics, which are also fed the batch loss. The eval metrics are the "mean loss".
func NewTrainer(m *model.Model, lossFn losses.LossFn, opt optimizers.Interface, extraTrainMetrics ...metrics.Interface) *Trainer {
	trainMetrics := []metrics.Interface{
		metrics.NewBaseMetric("batch loss", "loss", metrics.LossMetricType, nil),
		metrics.NewExponentialMovingAverageMetric("moving average loss", "~loss", metrics.LossMetricType, nil, 0.01),
	}
	trainMetrics = append(trainMetrics, extraTrainMetrics...)
	return &Trainer{
		model:        m,
		lossFn:       lossFn,
		optimizer:    opt,
		trainMetrics: trainMetrics,
		evalMetrics: []metrics.Interface{
			metrics.NewMeanMetric("mean loss", "#loss", metrics.LossMetricType, nil),
		},
	}
}

// Model being trained.
func (r *Trainer) Model() *model.Model { return r.model }

// Optimizer used by the Trainer.
func (r *Trainer) Optimizer() optimizers.Interface { return r.optimizer }

// GlobalStep returns the number of successful TrainStep calls.
func (r *Trainer) GlobalStep() int { return r.globalStep }

// TrainMetrics returns the metrics updated at every TrainStep. The first is the batch loss.
func (r *Trainer) TrainMetrics() []metrics.Interface { return r.trainMetrics }

// EvalMetrics returns the metrics computed by Eval.
func (r *Trainer) EvalMetrics() []metrics.Interface { return r.evalMetrics }

// ResetTrainMetrics resets the state of all train metrics.
func (r *Trainer) ResetTrainMetrics() {
	for _, metric := range r.trainMetrics {
		metric.Reset()
	}
}

// trainMetricsValues returns the current values of the train metrics.
func (r *Trainer) trainMetricsValues() []float64 {
	values := make([]float64, len(r.trainMetrics))
	for ii, metric := range r.trainMetrics {
		values[ii] = metric.Value()
	}
	return values
}

// predictions runs the model and checks it returned a tensor the loss can use.
func (r *Trainer) predictions(x any, isTrain bool) (*tensors.Tensor, model.Backprop, error) {
	y, bp, err := r.model.Call(x, isTrain)
	if err != nil {
		return nil, nil, err
	}
	predictions, ok := y.(*tensors.Tensor)
	if !ok {
		return nil, nil, errors.Errorf("model %q returned %T, the loss requires a *tensors.Tensor", r.model.Name(), y)
	}
	return predictions, bp, nil
}

// TrainStep runs the forward pass in training mode, the loss, the backward pass (accumulating the gradients)
// and finally the optimizer on all the parameters of the model.
//
// It returns the batch loss. If the loss is not finite it returns an error wrapping ErrNonFiniteLoss before
// the backward pass.
func (r *Trainer) TrainStep(x any, labels *tensors.Tensor) (loss float64, err error) {
	predictions, bp, err := r.predictions(x, true)
	if err != nil {
		return 0, errors.WithMessagef(err, "TrainStep(global step %d)", r.globalStep)
	}
	loss, dPredictions, err := r.lossFn(predictions, labels)
	if err != nil {
		return 0, errors.WithMessagef(err, "TrainStep(global step %d): loss", r.globalStep)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, errors.Wrapf(ErrNonFiniteLoss, "TrainStep(global step %d): batch loss is %g, training interrupted",
			r.globalStep, loss)
	}
	if _, err = bp.Backprop(dPredictions, nil); err != nil {
		return 0, errors.WithMessagef(err, "TrainStep(global step %d): backward", r.globalStep)
	}
	if err = r.model.FinishUpdate(r.optimizer); err != nil {
		return 0, errors.WithMessagef(err, "TrainStep(global step %d): optimizer", r.globalStep)
	}
	r.globalStep++
	for _, metric := range r.trainMetrics {
		metric.Update(loss)
	}
	if klog.V(2).Enabled() {
		klog.Infof("global step %d: batch loss %g", r.globalStep, loss)
	}
	return loss, nil
}

// EvalStep runs the model in inference mode and returns the loss. Nothing is updated.
func (r *Trainer) EvalStep(x any, labels *tensors.Tensor) (loss float64, err error) {
	predictions, _, err := r.predictions(x, false)
	if err != nil {
		return 0, errors.WithMessage(err, "EvalStep")
	}
	loss, _, err = r.lossFn(predictions, labels)
	if err != nil {
		return 0, errors.WithMessage(err, "EvalStep: loss")
	}
	return loss, nil
}

// Eval runs EvalStep over the whole dataset (until io.EOF) and returns the values of the EvalMetrics.
// It doesn't reset the dataset.
func (r *Trainer) Eval(ds Dataset) ([]float64, error) {
	for _, metric := range r.evalMetrics {
		metric.Reset()
	}
	count := 0
	for {
		x, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "Eval(%q): failed reading from Dataset", ds.Name())
		}
		loss, err := r.EvalStep(x, labels)
		if err != nil {
			return nil, errors.WithMessagef(err, "Eval(%q): batch %d", ds.Name(), count)
		}
		for _, metric := range r.evalMetrics {
			metric.Update(loss)
		}
		count++
	}
	if count == 0 {
		return nil, errors.Errorf("Eval(%q): dataset is empty", ds.Name())
	}
	values := make([]float64, len(r.evalMetrics))
	for ii, metric := range r.evalMetrics {
		values[ii] = metric.Value()
	}
	return values, nil
}
