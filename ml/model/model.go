// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package model defines Model, the composable and self-differentiating unit every layer is built on.
//
// A Model has a name and a process-unique id, a set of named dimensions (like "nI" for the input
// width and "nO" for the output width) that may be unknown until data is seen, parameters with their
// gradient accumulators, an ordered list of sublayers and a forward function.
//
// Calling a model returns the output and a Backprop record. Given the gradient of the output, the record
// returns the gradient of the input, and accumulates the gradients of the model's parameters:
//
//	y, bp, err := m.Call(x, true)
//	...
//	dX, err := bp.Backprop(dY, nil)
//	...
//	err = m.FinishUpdate(optimizer)
//
// Each record can be used only once: each forward pass produces a fresh one.
//
// Models are not safe for concurrent use: the backward pass mutates the gradient accumulators in place.
package model

import (
	"slices"
	"strings"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/koaning/thinc/pkg/support/params"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Kind tags the variant of a Model.
type Kind int

const (
	// KindLayer is a plain layer.
	KindLayer Kind = iota

	// KindChain is a sequential composition of its sublayers, see layers.Chain.
	KindChain
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindLayer:
		return "layer"
	case KindChain:
		return "chain"
	}
	return "unknown"
}

// ForwardFn computes the output of the model m for input x and returns the Backprop record
// for the backward pass. isTrain is true when the output will be differentiated (it enables dropout, for instance).
type ForwardFn func(m *Model, x any, isTrain bool) (y any, bp Backprop, err error)

// InitFn initializes the model m, resolving its dimensions, optionally from sample input x and/or output y.
// Either x or y (or both) may be nil.
type InitFn func(m *Model, x, y any) error

var lastID atomic.Uint64

// Model is a named, composable unit: see package documentation.
type Model struct {
	name string
	id   uint64
	kind Kind

	forward ForwardFn
	init    InitFn

	dimNames []string
	dims     map[string]int // 0 means declared but unset.

	params     []*paramSpec
	paramIdx   map[string]int
	weights    []float32
	gradients  []float32
	allocated  bool
	numWeights int

	layers []*Model
	attrs  params.Params
	ops    opsHolder
}

// New creates a new model with the given name and forward function.
//
// Dimensions, parameters, sublayers and the init function are configured with the methods below,
// usually from the layer's constructor.
func New(name string, forward ForwardFn) *Model {
	if forward == nil {
		exceptions.Panicf("model.New(%q): forward function cannot be nil", name)
	}
	return &Model{
		name:     name,
		id:       lastID.Add(1),
		forward:  forward,
		dims:     make(map[string]int),
		paramIdx: make(map[string]int),
		attrs:    make(params.Params),
	}
}

// Name of the model.
func (m *Model) Name() string { return m.name }

// SetName changes the name of the model.
func (m *Model) SetName(name string) { m.name = name }

// ID returns a process-unique id for the model. It's used as the key of the model's parameters
// by the optimizers.
func (m *Model) ID() uint64 { return m.id }

// Kind returns the variant tag of the model.
func (m *Model) Kind() Kind { return m.kind }

// SetKind sets the variant tag of the model. It returns the model itself, so calls can be cascaded.
func (m *Model) SetKind(kind Kind) *Model {
	m.kind = kind
	return m
}

// SetInit sets the init function of the model. It returns the model itself, so calls can be cascaded.
func (m *Model) SetInit(init InitFn) *Model {
	m.init = init
	return m
}

// String implements fmt.Stringer.
func (m *Model) String() string {
	var sb strings.Builder
	sb.WriteString(m.name)
	if len(m.dimNames) > 0 {
		sb.WriteString("(")
		for ii, name := range m.dimNames {
			if ii > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(name)
			sb.WriteString("=")
			sb.WriteString(m.dimString(name))
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// Layers returns the ordered sublayers of the model. The returned slice must not be modified,
// use AppendLayers instead.
func (m *Model) Layers() []*Model { return m.layers }

// AppendLayers appends the given models to the list of sublayers, in place.
// It returns the model itself, so calls can be cascaded.
func (m *Model) AppendLayers(layers ...*Model) *Model {
	for _, layer := range layers {
		if layer == nil {
			exceptions.Panicf("model %q: cannot append a nil layer", m.name)
		}
	}
	m.layers = append(m.layers, layers...)
	return m
}

// Attrs returns the free-form attributes of the model, like "dropout_rate" or "drop_factor".
// It can be changed in place.
func (m *Model) Attrs() params.Params { return m.attrs }

// GetAttrOr returns the attribute key of the model converted to T, or defaultValue if it is not set.
func GetAttrOr[T any](m *Model, key string, defaultValue T) T {
	return params.GetOr(m.attrs, key, defaultValue)
}

// Call runs the forward function on x and returns the output and the Backprop record for the backward pass.
//
// Panics raised by the backend or by the layers are converted to errors. The returned Backprop can
// only be used once.
func (m *Model) Call(x any, isTrain bool) (y any, bp Backprop, err error) {
	var innerBP Backprop
	panicErr := exceptions.TryCatch[error](func() {
		y, innerBP, err = m.forward(m, x, isTrain)
	})
	if panicErr != nil {
		return nil, nil, errors.WithMessagef(panicErr, "model %q forward", m.name)
	}
	if err != nil {
		return nil, nil, err
	}
	if innerBP == nil {
		return nil, nil, errors.Errorf("model %q forward returned no backprop record", m.name)
	}
	return y, &onceBackprop{model: m, bp: innerBP}, nil
}

// Predict runs the forward function in inference mode and returns only the output.
func (m *Model) Predict(x any) (any, error) {
	y, _, err := m.Call(x, false)
	return y, err
}

// Initialize runs the model's init function with the optional sample input x and output y (either can be nil),
// and then allocates the model's parameters, if not yet allocated.
//
// It returns an error wrapping ErrShapeInference if some parameter shape cannot be resolved.
func (m *Model) Initialize(x, y any) error {
	klog.V(2).Infof("initializing %s", m)
	if m.init != nil {
		var err error
		panicErr := exceptions.TryCatch[error](func() {
			err = m.init(m, x, y)
		})
		if panicErr != nil {
			return errors.WithMessagef(panicErr, "model %q initialization", m.name)
		}
		if err != nil {
			return err
		}
	}
	return m.AllocateParams()
}

// Walk visits the model and all its sublayers depth-first (pre-order), each model only once.
// It stops at the first error returned by fn.
func (m *Model) Walk(fn func(m *Model) error) error {
	visited := make(map[uint64]bool)
	var walk func(node *Model) error
	walk = func(node *Model) error {
		if visited[node.id] {
			return nil
		}
		visited[node.id] = true
		if err := fn(node); err != nil {
			return err
		}
		for _, layer := range node.layers {
			if err := walk(layer); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(m)
}

// FinishUpdate applies the optimizer to every model in the tree that owns allocated parameters,
// using the flat weights and gradients buffers and the model ID as key.
// Optimizers zero the gradients after the update.
func (m *Model) FinishUpdate(opt Optimizer) error {
	if opt == nil {
		return errors.New("FinishUpdate: nil optimizer")
	}
	return m.Walk(func(node *Model) error {
		if !node.allocated || len(node.weights) == 0 {
			return nil
		}
		if err := opt.Update(node.weights, node.gradients, node.id); err != nil {
			return errors.WithMessagef(err, "updating model %q", node.name)
		}
		return nil
	})
}

// NumParams returns the number of parameter values in the model tree.
func (m *Model) NumParams() int {
	var total int
	_ = m.Walk(func(node *Model) error {
		total += node.numWeights
		return nil
	})
	return total
}

// ParamNames returns the names of the parameters registered by this model (not its sublayers), in
// registration order.
func (m *Model) ParamNames() []string {
	names := make([]string, len(m.params))
	for ii, p := range m.params {
		names[ii] = p.name
	}
	return names
}

// Dims returns the names of the dimensions declared by the model, in declaration order.
func (m *Model) Dims() []string {
	return slices.Clone(m.dimNames)
}
