// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Backprop is the record returned by a forward pass, holding exactly the values the backward pass needs.
//
// Given the gradient of the output dY, Backprop accumulates the gradients of the model's parameters and
// returns the gradient of the input, with the same shape/structure as the original input.
//
// If opt is not nil, layers owning parameters apply an immediate in-place update with it after accumulating
// their gradients.
type Backprop interface {
	Backprop(dY any, opt Optimizer) (dX any, err error)
}

// BackpropFunc adapts a function to the Backprop interface.
type BackpropFunc func(dY any, opt Optimizer) (dX any, err error)

// Backprop implements the Backprop interface.
func (fn BackpropFunc) Backprop(dY any, opt Optimizer) (dX any, err error) {
	return fn(dY, opt)
}

// Optimizer applies one update step in place to the flat weights of a model, given the accumulated gradients,
// and zeroes the gradients. key identifies the model (see Model.ID) for optimizers that keep per-parameter state.
type Optimizer interface {
	Update(weights, gradients []float32, key uint64) error
}

// onceBackprop guards a Backprop record from being invoked twice, and converts panics into errors.
type onceBackprop struct {
	model *Model
	bp    Backprop
	used  bool
}

// Backprop implements the Backprop interface.
func (o *onceBackprop) Backprop(dY any, opt Optimizer) (dX any, err error) {
	if o.used {
		return nil, errors.Wrapf(ErrBackpropReused, "model %q", o.model.name)
	}
	o.used = true
	panicErr := exceptions.TryCatch[error](func() {
		dX, err = o.bp.Backprop(dY, opt)
	})
	if panicErr != nil {
		return nil, errors.WithMessagef(panicErr, "model %q backward", o.model.name)
	}
	return
}
