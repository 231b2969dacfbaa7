// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/koaning/thinc/backends"
	"github.com/koaning/thinc/ml/model"
	"github.com/koaning/thinc/ml/model/initializers"
	"github.com/koaning/thinc/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// LayerNormDefaultEpsilon is added to the variance before normalizing.
	LayerNormDefaultEpsilon = 1e-8

	// AttrEpsilon is the LayerNorm attribute holding epsilon.
	AttrEpsilon = "epsilon"
)

// LayerNormBuilder is a helper to build a layer normalization model. Create it with LayerNorm,
// set the desired parameters and when all is set, call Done.
// See LayerNorm for details.
type LayerNormBuilder struct {
	child       *model.Model
	outputDim   int
	epsilon     float64
	dropoutRate float64
}

// LayerNorm wraps the child layer, normalizing each row of its output to zero mean and unit variance
// over the feature axis, and then applying a learned scale G (initialized to ones) and offset b
// (initialized to zeros), both of shape [nO].
//
// During training a dropout is applied to the result, with rate given by the model attribute
// "dropout_rate" (see LayerNormBuilder.DropoutRate) times the child's attribute "drop_factor" (default 1).
//
// The output width nO is taken from LayerNormBuilder.OutputDim, else from the child's nO. If neither is
// known at construction, it is resolved on Initialize, from the child or from the width of its prediction
// on the sample input.
//
// To ease setting its parameters it returns a LayerNormBuilder object for configuration. Once it is
// set up call `LayerNormBuilder.Done` and it will return the model.
//
// Based on paper "Layer Normalization" (Jimmy Lei Ba, Jamie Ryan Kiros, Geoffrey E. Hinton),
// https://arxiv.org/abs/1607.06450
func LayerNorm(child *model.Model) *LayerNormBuilder {
	return &LayerNormBuilder{
		child:   child,
		epsilon: LayerNormDefaultEpsilon,
	}
}

// OutputDim sets the output width nO explicitly. By default, it is inherited from the child.
func (builder *LayerNormBuilder) OutputDim(nO int) *LayerNormBuilder {
	builder.outputDim = nO
	return builder
}

// Epsilon is a small float added to variance to avoid dividing by zero. It defaults to 1e-8.
func (builder *LayerNormBuilder) Epsilon(value float64) *LayerNormBuilder {
	builder.epsilon = value
	return builder
}

// DropoutRate sets the "dropout_rate" attribute of the model, the dropout applied to the output during training.
// It defaults to 0.
func (builder *LayerNormBuilder) DropoutRate(rate float64) *LayerNormBuilder {
	builder.dropoutRate = rate
	return builder
}

// Done builds the LayerNorm model. If the output width is known, the parameters are allocated immediately.
//
// It panics for invalid settings (nil child, negative width, negative epsilon or a dropout rate outside [0, 1)).
func (builder *LayerNormBuilder) Done() *model.Model {
	child := builder.child
	if child == nil {
		exceptions.Panicf("LayerNorm: child layer cannot be nil")
	}
	if builder.outputDim < 0 || builder.epsilon < 0 || builder.dropoutRate < 0 || builder.dropoutRate >= 1 {
		exceptions.Panicf("LayerNorm(%q): invalid configuration outputDim=%d, epsilon=%g, dropoutRate=%g",
			child.Name(), builder.outputDim, builder.epsilon, builder.dropoutRate)
	}
	m := model.New("layernorm", layerNormForward).
		SetInit(layerNormInit).
		DeclareDims(DimInput, DimOutput).
		AppendLayers(child).
		RegisterParam("G", model.DimsShape(DimOutput), initializers.One).
		RegisterParam("b", model.DimsShape(DimOutput), initializers.Zero)
	m.Attrs().Set(AttrEpsilon, builder.epsilon)
	if builder.dropoutRate > 0 {
		m.Attrs().Set(AttrDropoutRate, builder.dropoutRate)
	}

	nO := builder.outputDim
	if nO == 0 {
		nO = child.DimOr(DimOutput, 0)
	}
	if nO > 0 {
		if err := m.SetDim(DimOutput, nO); err != nil {
			panic(errors.WithMessagef(err, "LayerNorm(%q): setting output width", child.Name()))
		}
		if err := m.AllocateParams(); err != nil {
			panic(errors.WithMessagef(err, "LayerNorm(%q): allocating parameters", child.Name()))
		}
	}
	if nI := child.DimOr(DimInput, 0); nI > 0 {
		if err := m.SetDim(DimInput, nI); err != nil {
			panic(errors.WithMessagef(err, "LayerNorm(%q): setting input width", child.Name()))
		}
	}
	return m
}

// layerNormInit runs the child's initialization and resolves nO.
func layerNormInit(m *model.Model, x, y any) error {
	child := m.Layers()[0]
	if nO := m.DimOr(DimOutput, 0); nO > 0 && child.HasDim(DimOutput) == model.DimUnset {
		if err := child.SetDim(DimOutput, nO); err != nil {
			return err
		}
	}
	if err := child.Initialize(x, y); err != nil {
		return errors.WithMessagef(err, "LayerNorm child %q", child.Name())
	}

	if m.HasDim(DimOutput) != model.DimSet {
		nO := child.DimOr(DimOutput, 0)
		if nO == 0 && x != nil {
			prediction, err := child.Predict(x)
			if err != nil {
				return errors.WithMessagef(err, "LayerNorm child %q", child.Name())
			}
			if nO, err = model.GetWidth(prediction); err != nil {
				return err
			}
		}
		if nO == 0 && y != nil {
			var err error
			if nO, err = model.GetWidth(y); err != nil {
				return err
			}
		}
		if nO == 0 {
			return errors.Wrapf(model.ErrShapeInference,
				"LayerNorm: output width unknown, child %q has no nO and no sample data was given", child.Name())
		}
		if err := m.SetDim(DimOutput, nO); err != nil {
			return err
		}
		klog.V(1).Infof("LayerNorm: resolved nO=%d", nO)
	}
	if nI := child.DimOr(DimInput, 0); nI > 0 {
		if err := m.SetDim(DimInput, nI); err != nil {
			return err
		}
	}
	return m.AllocateParams()
}

// layerNormBackprop holds what the backward pass of LayerNorm needs from the forward pass.
type layerNormBackprop struct {
	model   *model.Model
	ops     backends.Ops
	childBP model.Backprop

	n        int
	dist     *tensors.Tensor // X - mu, shape [batch, n].
	variance *tensors.Tensor // var(X) + epsilon, shape [batch, 1].
	invStd   *tensors.Tensor // variance^-1/2, shape [batch, 1].
	xhat     *tensors.Tensor // Normalized X, shape [batch, n].
	dropMask *tensors.Tensor // nil if no dropout was applied.
}

func layerNormForward(m *model.Model, x any, isTrain bool) (any, model.Backprop, error) {
	if !m.ParamsAllocated() {
		return nil, nil, errNotInitialized(m)
	}
	ops := m.Ops()
	child := m.Layers()[0]
	childY, childBP, err := child.Call(x, isTrain)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "LayerNorm child %q", child.Name())
	}
	nO, err := m.GetDim(DimOutput)
	if err != nil {
		return nil, nil, err
	}
	X, err := asMatrix(m, "child output", childY, nO)
	if err != nil {
		return nil, nil, err
	}

	// Moments over the feature axis.
	epsilon := model.GetAttrOr(m, AttrEpsilon, LayerNormDefaultEpsilon)
	mu := ops.Mean(X, -1, true)
	variance := ops.AddScalar(ops.Variance(X, -1, true), epsilon)
	dist := ops.Sub(X, mu)
	invStd := ops.PowScalar(variance, -0.5)
	xhat := ops.Mul(dist, invStd)

	// Scale and shift.
	G := m.Param("G").Reshape(1, nO)
	b := m.Param("b").Reshape(1, nO)
	y := ops.Add(ops.Mul(xhat, G), b)

	var dropMask *tensors.Tensor
	if isTrain {
		rate := model.GetAttrOr(m, AttrDropoutRate, 0.0) * model.GetAttrOr(child, AttrDropFactor, 1.0)
		if rate > 0 {
			y, dropMask = ops.Dropout(y, rate)
		}
	}
	if y.DType() != dtypes.Float32 {
		exceptions.Panicf("LayerNorm: output must be Float32, got %s", y.DType())
	}
	return y, &layerNormBackprop{
		model:    m,
		ops:      ops,
		childBP:  childBP,
		n:        nO,
		dist:     dist,
		variance: variance,
		invStd:   invStd,
		xhat:     xhat,
		dropMask: dropMask,
	}, nil
}

// Backprop implements model.Backprop.
//
// The gradients of G and b are accumulated before the child's backward pass runs: if it fails they
// stay accumulated.
func (bp *layerNormBackprop) Backprop(dYAny any, opt model.Optimizer) (any, error) {
	m, ops := bp.model, bp.ops
	dy, err := asMatrix(m, "gradient", dYAny, bp.n)
	if err != nil {
		return nil, err
	}
	if dy.Dim(0) != bp.xhat.Dim(0) {
		return nil, errors.Wrapf(model.ErrShapeInference, "LayerNorm: gradient has shape %s, but output was %s",
			dy.Shape(), bp.xhat.Shape())
	}
	if bp.dropMask != nil {
		dy = ops.Mul(dy, bp.dropMask)
	}

	// Scale and shift: the pass-through gradient uses G from before any update.
	dy, err = bp.backpropScaleShift(dy, opt)
	if err != nil {
		return nil, err
	}

	// d_xhat = (N*dy - sum(dy) - dist * var^-1 * sum(dy*dist)) * var^-1/2 / N
	n := float64(bp.n)
	sumDy := ops.Sum(dy, -1, true)
	sumDyDist := ops.Sum(ops.Mul(dy, bp.dist), -1, true)
	dXhat := ops.Sub(ops.MulScalar(dy, n), sumDy)
	dXhat = ops.Sub(dXhat, ops.Mul(ops.Mul(bp.dist, ops.PowScalar(bp.variance, -1)), sumDyDist))
	dXhat = ops.MulScalar(ops.Mul(dXhat, bp.invStd), 1/n)

	return bp.childBP.Backprop(dXhat, opt)
}

func (bp *layerNormBackprop) backpropScaleShift(dy *tensors.Tensor, opt model.Optimizer) (*tensors.Tensor, error) {
	m, ops := bp.model, bp.ops
	passThrough := ops.Mul(dy, m.Param("G").Reshape(1, bp.n))
	ops.AddTo(m.Grad("b"), ops.Sum(dy, 0, false))
	ops.AddTo(m.Grad("G"), ops.Sum(ops.Mul(dy, bp.xhat), 0, false))
	if opt != nil {
		if err := opt.Update(m.Weights(), m.Gradients(), m.ID()); err != nil {
			return nil, errors.WithMessagef(err, "LayerNorm: updating parameters")
		}
	}
	return passThrough, nil
}
