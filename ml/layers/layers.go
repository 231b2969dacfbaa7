// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layers holds a collection of layers, each a *model.Model with its forward function, backward
// record and dimension inference.
//
// Layers are composed with Chain, which threads shape information through its sublayers so that most
// dimensions can be left to be inferred from data:
//
//	net := must.M1(layers.Chain(
//		layers.MeanPool(),
//		layers.LayerNorm(layers.Linear(16, 0)).Done(),
//		layers.Relu(),
//		layers.Linear(1, 0)))
//	must.M(net.Initialize(sampleX, sampleY))
//
// Layers work on float32 *tensors.Tensor values shaped [batch, width], except MeanPool, which takes
// a *tensors.Ragged batch of sequences.
package layers

import (
	"github.com/koaning/thinc/ml/model"
	"github.com/koaning/thinc/types/tensors"
	"github.com/pkg/errors"
)

const (
	// DimInput is the name of the input width dimension.
	DimInput = "nI"

	// DimOutput is the name of the output width dimension.
	DimOutput = "nO"

	// AttrDropoutRate is the model attribute with the dropout rate applied by layers that support it,
	// during training only. Default is 0.
	AttrDropoutRate = "dropout_rate"

	// AttrDropFactor is an attribute a child layer can declare to scale the dropout rate of its parent. Default is 1.
	AttrDropFactor = "drop_factor"
)

// asMatrix converts v to a rank-2 tensor with the given width (if width > 0), or returns an error.
func asMatrix(m *model.Model, what string, v any, width int) (*tensors.Tensor, error) {
	t, ok := v.(*tensors.Tensor)
	if !ok || t == nil {
		return nil, errors.Errorf("%q: %s must be a *tensors.Tensor, got %T", m.Name(), what, v)
	}
	if t.Rank() != 2 {
		return nil, errors.Wrapf(model.ErrShapeInference, "%q: %s must be [batch, width], got shape %s", m.Name(), what, t.Shape())
	}
	if width > 0 && t.Dim(1) != width {
		return nil, errors.Wrapf(model.ErrShapeInference, "%q: %s must have width %d, got shape %s", m.Name(), what, width, t.Shape())
	}
	return t, nil
}

// errNotInitialized returns the error for a model called before its parameters were allocated.
func errNotInitialized(m *model.Model) error {
	return errors.Wrapf(model.ErrShapeInference, "%q called before its dimensions were resolved, call Initialize first", m.String())
}
