// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/koaning/thinc/backends"
	"github.com/koaning/thinc/ml/model"
	"github.com/koaning/thinc/ml/model/initializers"
	"github.com/koaning/thinc/types/tensors"
	"github.com/pkg/errors"
)

// Linear returns a dense layer computing `y = x·Wᵀ + b`, with W shaped [nO, nI] (Glorot uniform initialized)
// and b shaped [nO] (zero initialized).
//
// Either width can be 0, in which case it is inferred on Initialize: nI from the width of the sample input
// and nO from the width of the sample output (or set by an enclosing layer).
//
// W is drawn from the package level random source of math/rand/v2, see LinearWithRand for reproducible weights.
func Linear(nO, nI int) *model.Model {
	return LinearWithRand(nO, nI, nil)
}

// LinearWithRand is like Linear, but W is initialized with rng. If rng is nil, the package level
// random source is used.
func LinearWithRand(nO, nI int, rng *rand.Rand) *model.Model {
	if nO < 0 || nI < 0 {
		exceptions.Panicf("Linear(nO=%d, nI=%d): dimensions cannot be negative", nO, nI)
	}
	m := model.New("linear", linearForward).
		SetInit(linearInit).
		DeclareDims(DimOutput, DimInput).
		RegisterParam("W", model.DimsShape(DimOutput, DimInput), initializers.GlorotUniform(rng)).
		RegisterParam("b", model.DimsShape(DimOutput), initializers.Zero)
	for _, dim := range []struct {
		name  string
		value int
	}{{DimOutput, nO}, {DimInput, nI}} {
		if dim.value > 0 {
			if err := m.SetDim(dim.name, dim.value); err != nil {
				panic(errors.WithMessagef(err, "Linear(nO=%d, nI=%d)", nO, nI))
			}
		}
	}
	return m
}

func linearInit(m *model.Model, x, y any) error {
	for _, sample := range []struct {
		dim   string
		value any
	}{{DimInput, x}, {DimOutput, y}} {
		if sample.value == nil || m.HasDim(sample.dim) == model.DimSet {
			continue
		}
		width, err := model.GetWidth(sample.value)
		if err != nil {
			return err
		}
		if err = m.SetDim(sample.dim, width); err != nil {
			return err
		}
	}
	return nil
}

type linearBackprop struct {
	model *model.Model
	ops   backends.Ops
	x     *tensors.Tensor
}

func linearForward(m *model.Model, x any, _ bool) (any, model.Backprop, error) {
	if !m.ParamsAllocated() {
		return nil, nil, errNotInitialized(m)
	}
	nI, err := m.GetDim(DimInput)
	if err != nil {
		return nil, nil, err
	}
	X, err := asMatrix(m, "input", x, nI)
	if err != nil {
		return nil, nil, err
	}
	ops := m.Ops()
	nO := m.DimOr(DimOutput, 0)
	y := ops.Add(ops.MatMul(X, m.Param("W"), false, true), m.Param("b").Reshape(1, nO))
	return y, &linearBackprop{model: m, ops: ops, x: X}, nil
}

// Backprop implements model.Backprop.
func (bp *linearBackprop) Backprop(dYAny any, opt model.Optimizer) (any, error) {
	m, ops := bp.model, bp.ops
	dY, err := asMatrix(m, "gradient", dYAny, m.DimOr(DimOutput, 0))
	if err != nil {
		return nil, err
	}
	if dY.Dim(0) != bp.x.Dim(0) {
		return nil, errors.Wrapf(model.ErrShapeInference, "%q: gradient has shape %s for an input of shape %s",
			m.Name(), dY.Shape(), bp.x.Shape())
	}

	// dX uses W from before the update.
	dX := ops.MatMul(dY, m.Param("W"), false, false)
	ops.AddTo(m.Grad("W"), ops.MatMul(dY, bp.x, true, false))
	ops.AddTo(m.Grad("b"), ops.Sum(dY, 0, false))
	if opt != nil {
		if err := opt.Update(m.Weights(), m.Gradients(), m.ID()); err != nil {
			return nil, errors.WithMessagef(err, "%q: updating parameters", m.Name())
		}
	}
	return dX, nil
}
