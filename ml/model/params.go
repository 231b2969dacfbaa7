// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/koaning/thinc/ml/model/initializers"
	"github.com/koaning/thinc/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ShapeFn returns the dimensions of a parameter, usually computed from the model's dimensions.
type ShapeFn func(m *Model) ([]int, error)

// DimsShape returns a ShapeFn that builds the parameter shape from the values of the given model dimensions.
// E.g.: DimsShape("nO", "nI") for the weights of a linear layer.
func DimsShape(dimNames ...string) ShapeFn {
	return func(m *Model) ([]int, error) {
		dims := make([]int, len(dimNames))
		for ii, name := range dimNames {
			value, err := m.GetDim(name)
			if err != nil {
				return nil, err
			}
			dims[ii] = value
		}
		return dims, nil
	}
}

type paramSpec struct {
	name    string
	shapeFn ShapeFn
	init    initializers.Initializer

	// Set on allocation.
	dims   []int
	offset int
	size   int
}

// RegisterParam registers a parameter with the function that computes its shape and its initializer.
// The parameter is allocated by AllocateParams (or Initialize), once its shape can be resolved.
//
// It panics if a parameter with the same name was already registered, or if the parameters are already allocated.
// It returns the model itself, so calls can be cascaded.
func (m *Model) RegisterParam(name string, shapeFn ShapeFn, init initializers.Initializer) *Model {
	if _, found := m.paramIdx[name]; found {
		exceptions.Panicf("model %q: parameter %q registered twice", m.name, name)
	}
	if m.allocated {
		exceptions.Panicf("model %q: cannot register parameter %q after parameters are allocated", m.name, name)
	}
	if init == nil {
		init = initializers.Zero
	}
	m.paramIdx[name] = len(m.params)
	m.params = append(m.params, &paramSpec{name: name, shapeFn: shapeFn, init: init})
	return m
}

// ParamsAllocated returns whether the model's parameters were already allocated.
func (m *Model) ParamsAllocated() bool { return m.allocated }

// AllocateParams resolves the shape of every registered parameter and lays them out contiguously in one
// flat weights buffer, with a gradients buffer of the same size. Weights are set with the parameters'
// initializers, and gradients start at zero.
//
// It is a no-op if the parameters are already allocated. It returns an error wrapping ErrShapeInference
// if a shape cannot be resolved.
func (m *Model) AllocateParams() error {
	if m.allocated {
		return nil
	}
	total := 0
	for _, p := range m.params {
		dims, err := p.shapeFn(m)
		if err != nil {
			return errors.WithMessagef(err, "model %q: resolving shape of parameter %q", m.name, p.name)
		}
		size := 1
		for _, dim := range dims {
			if dim <= 0 {
				return errors.Wrapf(ErrShapeInference, "model %q: parameter %q has invalid dimensions %v", m.name, p.name, dims)
			}
			size *= dim
		}
		p.dims, p.offset, p.size = dims, total, size
		total += size
	}
	m.weights = make([]float32, total)
	m.gradients = make([]float32, total)
	m.numWeights = total
	m.allocated = true
	panicErr := exceptions.TryCatch[error](func() {
		for _, p := range m.params {
			p.init(m.view(m.weights, p))
		}
	})
	if panicErr != nil {
		return errors.WithMessagef(panicErr, "model %q: initializing parameters", m.name)
	}
	if len(m.params) > 0 {
		klog.V(1).Infof("model %q: allocated %d parameters (%s)", m.name, total, humanize.Bytes(uint64(total)*4))
	}
	return nil
}

func (m *Model) view(buffer []float32, p *paramSpec) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(buffer[p.offset:p.offset+p.size], p.dims...)
}

func (m *Model) mustParamSpec(name string) *paramSpec {
	idx, found := m.paramIdx[name]
	if !found {
		exceptions.Panicf("model %q has no parameter %q", m.name, name)
	}
	if !m.allocated {
		exceptions.Panicf("model %q: parameter %q is not allocated yet, initialize the model first", m.name, name)
	}
	return m.params[idx]
}

// HasParam returns whether a parameter with the given name was registered.
func (m *Model) HasParam(name string) bool {
	_, found := m.paramIdx[name]
	return found
}

// Param returns a view of the parameter: it shares the memory of the flat weights buffer.
//
// It panics if the parameter is not registered or not yet allocated.
func (m *Model) Param(name string) *tensors.Tensor {
	return m.view(m.weights, m.mustParamSpec(name))
}

// Grad returns a view of the gradient accumulator of the parameter: it shares the memory of the flat gradients buffer.
//
// It panics if the parameter is not registered or not yet allocated.
func (m *Model) Grad(name string) *tensors.Tensor {
	return m.view(m.gradients, m.mustParamSpec(name))
}

// Weights returns the flat buffer with all the parameters owned by the model (not its sublayers).
func (m *Model) Weights() []float32 { return m.weights }

// Gradients returns the flat buffer with the gradient accumulators of the model's parameters.
func (m *Model) Gradients() []float32 { return m.gradients }
