// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package losses have several standard losses that implement the LossFn signature. They can also
// be called separately by custom losses.
//
// They all have the same signature that can be used by train.Trainer.
package losses

import (
	"math"

	"github.com/koaning/thinc/types/tensors"
	"github.com/pkg/errors"
)

// LossFn is the signature used by train.Trainer to train models.
//
// It takes as inputs the predictions and labels:
//   - predictions comes from the model.
//   - labels comes from the dataset.
//
// It returns the scalar loss and its gradient with respect to the predictions, with the same shape as
// the predictions, which is fed to the backward pass of the model.
type LossFn func(predictions, labels *tensors.Tensor) (loss float64, dPredictions *tensors.Tensor, err error)

// checkShapes returns an error if predictions and labels don't have the same shape.
func checkShapes(name string, predictions, labels *tensors.Tensor) error {
	if predictions == nil || labels == nil {
		return errors.Errorf("%s: predictions and labels must be given", name)
	}
	if !predictions.Shape().Equal(labels.Shape()) {
		return errors.Errorf("%s: labels (%s) and predictions (%s) must have same shape", name, labels.Shape(), predictions.Shape())
	}
	return nil
}

// MeanSquaredError returns the mean squared error between labels and predictions, taken over all elements,
// and its gradient `2*(predictions-labels)/size`.
//
// labels and predictions must have the same shape.
func MeanSquaredError(predictions, labels *tensors.Tensor) (loss float64, dPredictions *tensors.Tensor, err error) {
	if err = checkShapes("MeanSquaredError", predictions, labels); err != nil {
		return
	}
	dPredictions = tensors.FromShape(predictions.Shape())
	size := predictions.Size()
	if size == 0 {
		return
	}
	grad, labelsFlat := dPredictions.Flat(), labels.Flat()
	for ii, p := range predictions.Flat() {
		diff := float64(p) - float64(labelsFlat[ii])
		loss += diff * diff
		grad[ii] = float32(2 * diff / float64(size))
	}
	loss /= float64(size)
	return
}

// MeanAbsoluteError returns the mean absolute error between labels and predictions, taken over all elements,
// and its gradient `sign(predictions-labels)/size`.
//
// labels and predictions must have the same shape.
func MeanAbsoluteError(predictions, labels *tensors.Tensor) (loss float64, dPredictions *tensors.Tensor, err error) {
	if err = checkShapes("MeanAbsoluteError", predictions, labels); err != nil {
		return
	}
	dPredictions = tensors.FromShape(predictions.Shape())
	size := predictions.Size()
	if size == 0 {
		return
	}
	grad, labelsFlat := dPredictions.Flat(), labels.Flat()
	for ii, p := range predictions.Flat() {
		diff := float64(p) - float64(labelsFlat[ii])
		loss += math.Abs(diff)
		switch {
		case diff > 0:
			grad[ii] = float32(1 / float64(size))
		case diff < 0:
			grad[ii] = float32(-1 / float64(size))
		}
	}
	loss /= float64(size)
	return
}
