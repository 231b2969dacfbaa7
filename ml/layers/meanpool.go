// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/koaning/thinc/backends"
	"github.com/koaning/thinc/ml/model"
	"github.com/koaning/thinc/types/tensors"
	"github.com/pkg/errors"
)

// MeanPool returns a stateless layer that reduces each sequence of a *tensors.Ragged batch to the
// mean of its rows, producing one row per sequence.
//
// The gradient it returns is a *tensors.Ragged with the same lengths as the input: each row of a sequence
// receives 1/length of the sequence's gradient, and padding rows receive zero.
func MeanPool() *model.Model {
	return model.New("mean_pool", meanPoolForward)
}

type meanPoolBackprop struct {
	ops     backends.Ops
	lengths []int
	numRows int
}

func meanPoolForward(m *model.Model, x any, _ bool) (any, model.Backprop, error) {
	ragged, ok := x.(*tensors.Ragged)
	if !ok || ragged == nil || ragged.Data == nil {
		return nil, nil, errors.Errorf("%q: input must be a *tensors.Ragged, got %T", m.Name(), x)
	}
	ops := m.Ops()
	y := ops.MeanPool(ragged.Data, ragged.Lengths)
	return y, &meanPoolBackprop{ops: ops, lengths: ragged.Lengths, numRows: ragged.Data.Dim(0)}, nil
}

// Backprop implements model.Backprop.
func (bp *meanPoolBackprop) Backprop(dY any, _ model.Optimizer) (any, error) {
	grad, ok := dY.(*tensors.Tensor)
	if !ok || grad == nil {
		return nil, errors.Errorf("mean_pool: gradient must be a *tensors.Tensor, got %T", dY)
	}
	dX := bp.ops.BackpropMeanPool(grad, bp.lengths, bp.numRows)
	return &tensors.Ragged{Data: dX, Lengths: bp.lengths}, nil
}
