// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"strings"

	"github.com/koaning/thinc/ml/model"
	"github.com/koaning/thinc/pkg/support/xslices"
	"github.com/koaning/thinc/types/shapes"
	"github.com/koaning/thinc/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ChainSeparator joins the names of the layers of a chain.
const ChainSeparator = ">>"

// Chain composes the layers left to right: the output of each layer is fed to the next one.
//
// If the first layer is itself a chain, the remaining layers are appended to it in place, and
// the same chain is returned: chains never wrap chains. Its name and output width are refreshed.
//
// If the first layer already knows its input width and the last one its output width, the chain is
// initialized immediately, otherwise initialization is deferred until Initialize is called (usually
// with sample data).
//
// Calling a chain without layers returns an error wrapping model.ErrEmptyComposition.
func Chain(layers ...*model.Model) (*model.Model, error) {
	for ii, layer := range layers {
		if layer == nil {
			return nil, errors.Errorf("Chain: layer #%d is nil", ii)
		}
	}
	if len(layers) > 0 && layers[0].Kind() == model.KindChain {
		c := layers[0]
		c.AppendLayers(layers[1:]...)
		c.SetName(chainName(c.Layers()))
		if err := refreshChainDims(c); err != nil {
			return nil, err
		}
		return c, nil
	}

	c := model.New(chainName(layers), chainForward).
		SetKind(model.KindChain).
		SetInit(chainInit).
		DeclareDims(DimInput, DimOutput).
		AppendLayers(layers...)
	if len(layers) > 0 && layers[0].HasDim(DimInput) == model.DimSet &&
		layers[len(layers)-1].HasDim(DimOutput) == model.DimSet {
		if err := c.Initialize(nil, nil); err != nil {
			return nil, errors.WithMessagef(err, "initializing chain %q", c.Name())
		}
	}
	return c, nil
}

func chainName(layers []*model.Model) string {
	return strings.Join(xslices.Map(layers, (*model.Model).Name), ChainSeparator)
}

// refreshChainDims copies the input width of the first layer and the output width of the last, if known.
func refreshChainDims(c *model.Model) error {
	layers := c.Layers()
	if len(layers) == 0 {
		return nil
	}
	if nI := layers[0].DimOr(DimInput, 0); nI > 0 {
		if err := c.SetDim(DimInput, nI); err != nil {
			return err
		}
	}
	if nO := layers[len(layers)-1].DimOr(DimOutput, 0); nO > 0 {
		if err := c.SetDim(DimOutput, nO); err != nil {
			return err
		}
	}
	return nil
}

// chainBackprop holds the records of each layer, in forward order, and the shapes of their outputs.
type chainBackprop struct {
	chain        *model.Model
	callbacks    []model.Backprop
	outputShapes []shapes.Shape
}

func chainForward(c *model.Model, x any, isTrain bool) (any, model.Backprop, error) {
	layers := c.Layers()
	if len(layers) == 0 {
		return nil, nil, errors.Wrapf(model.ErrEmptyComposition, "chain %q has no layers", c.Name())
	}
	bp := &chainBackprop{
		chain:        c,
		callbacks:    make([]model.Backprop, 0, len(layers)),
		outputShapes: make([]shapes.Shape, 0, len(layers)),
	}
	y := x
	for _, layer := range layers {
		var layerBP model.Backprop
		var err error
		y, layerBP, err = layer.Call(y, isTrain)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "chain %q", c.Name())
		}
		bp.callbacks = append(bp.callbacks, layerBP)
		bp.outputShapes = append(bp.outputShapes, shapeOf(y))
	}
	return y, bp, nil
}

// Backprop implements model.Backprop: it runs the records of the layers in reverse order.
func (bp *chainBackprop) Backprop(dY any, opt model.Optimizer) (any, error) {
	layers := bp.chain.Layers()
	for ii := len(bp.callbacks) - 1; ii >= 0; ii-- {
		if want := bp.outputShapes[ii]; want.Ok() {
			if got := shapeOf(dY); got.Ok() && !got.Equal(want) {
				return nil, errors.Wrapf(model.ErrShapeInference,
					"chain %q: gradient for the output of layer #%d %q has shape %s, but the output had shape %s",
					bp.chain.Name(), ii, layers[ii].Name(), got, want)
			}
		}
		var err error
		dY, err = bp.callbacks[ii].Backprop(dY, opt)
		if err != nil {
			return nil, errors.WithMessagef(err, "chain %q", bp.chain.Name())
		}
	}
	return dY, nil
}

// shapeOf returns the shape of tensors and ragged batches, and an invalid shape for anything else.
func shapeOf(v any) shapes.Shape {
	switch t := v.(type) {
	case *tensors.Tensor:
		if t != nil {
			return t.Shape()
		}
	case *tensors.Ragged:
		if t != nil && t.Data != nil {
			return t.Data.Shape()
		}
	}
	return shapes.Invalid()
}

// chainInit resolves the dimensions of the layers of the chain.
//
// Without sample data every layer is initialized on its own. With sample data, the output width
// (from y, or from the chain) is first propagated backwards through the layers that know their input
// width, and then the sample x is fed forward, initializing each layer with the output of the previous one.
func chainInit(c *model.Model, x, y any) error {
	layers := c.Layers()
	if len(layers) == 0 {
		return nil
	}
	if x == nil && y == nil {
		for _, layer := range layers {
			if err := layer.Initialize(nil, nil); err != nil {
				return errors.WithMessagef(err, "chain %q", c.Name())
			}
		}
		return refreshChainDims(c)
	}

	nO := c.DimOr(DimOutput, 0)
	if y != nil {
		width, err := model.GetWidth(y)
		if err != nil {
			return errors.WithMessagef(err, "chain %q: output sample", c.Name())
		}
		nO = width
	}
	for ii := len(layers) - 1; ii >= 0; ii-- {
		layer := layers[ii]
		if nO > 0 && layer.HasDim(DimOutput) == model.DimUnset {
			if err := layer.SetDim(DimOutput, nO); err != nil {
				return errors.WithMessagef(err, "chain %q", c.Name())
			}
		}
		if layer.HasDim(DimInput) != model.DimSet {
			break
		}
		nO = layer.DimOr(DimInput, 0)
	}

	sample := x
	for _, layer := range layers[:len(layers)-1] {
		if err := layer.Initialize(sample, nil); err != nil {
			return errors.WithMessagef(err, "chain %q", c.Name())
		}
		if sample != nil {
			var err error
			sample, err = layer.Predict(sample)
			if err != nil {
				return errors.WithMessagef(err, "chain %q: predicting sample", c.Name())
			}
		}
	}
	if err := layers[len(layers)-1].Initialize(sample, y); err != nil {
		return errors.WithMessagef(err, "chain %q", c.Name())
	}
	klog.V(1).Infof("chain %q initialized", c.Name())
	return refreshChainDims(c)
}
