// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/koaning/thinc/backends"
	"github.com/koaning/thinc/ml/model"
	"github.com/koaning/thinc/types/tensors"
	"github.com/pkg/errors"
)

// Relu returns a stateless layer computing max(x, 0) element-wise.
func Relu() *model.Model {
	return model.New("relu", reluForward)
}

type reluBackprop struct {
	ops backends.Ops
	y   *tensors.Tensor
}

func reluForward(m *model.Model, x any, _ bool) (any, model.Backprop, error) {
	X, ok := x.(*tensors.Tensor)
	if !ok || X == nil {
		return nil, nil, errors.Errorf("%q: input must be a *tensors.Tensor, got %T", m.Name(), x)
	}
	ops := m.Ops()
	y := ops.Relu(X)
	return y, &reluBackprop{ops: ops, y: y}, nil
}

// Backprop implements model.Backprop.
func (bp *reluBackprop) Backprop(dY any, _ model.Optimizer) (any, error) {
	grad, ok := dY.(*tensors.Tensor)
	if !ok || grad == nil {
		return nil, errors.Errorf("relu: gradient must be a *tensors.Tensor, got %T", dY)
	}
	if !grad.Shape().Equal(bp.y.Shape()) {
		return nil, errors.Wrapf(model.ErrShapeInference, "relu: gradient has shape %s, but output was %s",
			grad.Shape(), bp.y.Shape())
	}
	return bp.ops.BackpropRelu(grad, bp.y), nil
}
