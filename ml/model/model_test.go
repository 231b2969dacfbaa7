// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/koaning/thinc/ml/model/initializers"
	"github.com/koaning/thinc/types/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// identity returns x and a backward record that returns dY.
func identity(_ *Model, x any, _ bool) (any, Backprop, error) {
	return x, BackpropFunc(func(dY any, _ Optimizer) (any, error) { return dY, nil }), nil
}

func newScale() *Model {
	m := New("scale", func(m *Model, x any, _ bool) (any, Backprop, error) {
		t := x.(*tensors.Tensor)
		w := m.Param("w")
		y := m.Ops().Mul(t, w)
		return y, BackpropFunc(func(dY any, _ Optimizer) (any, error) {
			dYT := dY.(*tensors.Tensor)
			m.Ops().AddTo(m.Grad("w"), m.Ops().Sum(m.Ops().Mul(dYT, t), 0, true))
			return m.Ops().Mul(dYT, w), nil
		}), nil
	})
	m.DeclareDims("nO")
	m.RegisterParam("w", func(m *Model) ([]int, error) {
		nO, err := m.GetDim("nO")
		return []int{1, nO}, err
	}, initializers.One)
	m.RegisterParam("b", DimsShape("nO"), nil)
	return m
}

func TestDims(t *testing.T) {
	m := newScale()
	assert.Equal(t, DimUnset, m.HasDim("nO"))
	assert.Equal(t, DimAbsent, m.HasDim("nI"))
	_, err := m.GetDim("nO")
	require.ErrorIs(t, err, ErrShapeInference)
	_, err = m.GetDim("nI")
	require.ErrorIs(t, err, ErrShapeInference)
	require.ErrorIs(t, m.SetDim("nI", 3), ErrShapeInference)
	require.ErrorIs(t, m.SetDim("nO", 0), ErrShapeInference)
	assert.Equal(t, 7, m.DimOr("nO", 7))

	require.NoError(t, m.SetDim("nO", 3))
	assert.Equal(t, DimSet, m.HasDim("nO"))
	require.NoError(t, m.SetDim("nO", 4))
	require.NoError(t, m.AllocateParams())
	require.NoError(t, m.SetDim("nO", 4))
	require.ErrorIs(t, m.SetDim("nO", 5), ErrShapeInference)
	assert.Equal(t, "scale(nO=4)", m.String())
	assert.Equal(t, []string{"nO"}, m.Dims())
}

func TestParams(t *testing.T) {
	m := newScale()
	require.Panics(t, func() { m.Param("w") })
	require.ErrorIs(t, m.Initialize(nil, nil), ErrShapeInference)
	require.NoError(t, m.SetDim("nO", 2))
	require.NoError(t, m.Initialize(nil, nil))
	require.True(t, m.ParamsAllocated())
	assert.Equal(t, []string{"w", "b"}, m.ParamNames())
	assert.Equal(t, 4, m.NumParams())
	assert.Equal(t, []float32{1, 1, 0, 0}, m.Weights())
	assert.Equal(t, []int{1, 2}, m.Param("w").Shape().Dimensions)

	// Views alias the flat buffers.
	m.Param("b").Flat()[1] = 5
	m.Grad("w").Flat()[0] = 3
	assert.Equal(t, float32(5), m.Weights()[3])
	assert.Equal(t, float32(3), m.Gradients()[0])
	require.Panics(t, func() { m.Param("missing") })
	require.Panics(t, func() { m.RegisterParam("late", DimsShape("nO"), nil) })
	require.Panics(t, func() { newScale().RegisterParam("w", DimsShape("nO"), nil) })
}

type recordingOptimizer struct {
	keys []uint64
	err  error
}

func (o *recordingOptimizer) Update(weights, gradients []float32, key uint64) error {
	if o.err != nil {
		return o.err
	}
	o.keys = append(o.keys, key)
	for ii := range weights {
		weights[ii] -= gradients[ii]
		gradients[ii] = 0
	}
	return nil
}

func TestCallAndBackprop(t *testing.T) {
	m := newScale()
	require.NoError(t, m.SetDim("nO", 2))
	require.NoError(t, m.Initialize(nil, nil))
	m.Param("w").Flat()[1] = 2

	x := tensors.FromValue([][]float32{{1, 2}, {3, 4}})
	yAny, bp, err := m.Call(x, true)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 4}, {3, 8}}, yAny.(*tensors.Tensor).Value())

	dX, err := bp.Backprop(tensors.FromScalarAndDimensions(1, 2, 2), nil)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}, {1, 2}}, dX.(*tensors.Tensor).Value())
	assert.Equal(t, []float32{4, 6}, m.Grad("w").Flat())

	_, err = bp.Backprop(tensors.FromScalarAndDimensions(1, 2, 2), nil)
	require.ErrorIs(t, err, ErrBackpropReused)

	opt := &recordingOptimizer{}
	require.NoError(t, m.FinishUpdate(opt))
	assert.Equal(t, []uint64{m.ID()}, opt.keys)
	assert.Equal(t, []float32{-3, -4}, m.Param("w").Flat())
	assert.Equal(t, []float32{0, 0, 0, 0}, m.Gradients())

	opt.err = errors.New("boom")
	require.Error(t, m.FinishUpdate(opt))
	require.Error(t, m.FinishUpdate(nil))

	y, err := m.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{-3, -8}, {-9, -16}}, y.(*tensors.Tensor).Value())
}

func TestPanicsBecomeErrors(t *testing.T) {
	m := New("panicky", func(m *Model, x any, _ bool) (any, Backprop, error) {
		if x == nil {
			exceptions.Panicf("no input")
		}
		return x, BackpropFunc(func(dY any, _ Optimizer) (any, error) {
			return m.Ops().Add(dY.(*tensors.Tensor), tensors.Zeros(7)), nil
		}), nil
	})
	_, _, err := m.Call(nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input")

	_, bp, err := m.Call(tensors.Zeros(2, 3), true)
	require.NoError(t, err)
	_, err = bp.Backprop(tensors.Zeros(2, 3), nil)
	require.Error(t, err)

	m.SetInit(func(m *Model, x, y any) error {
		exceptions.Panicf("init failed")
		return nil
	})
	require.Error(t, m.Initialize(nil, nil))
}

func TestWalkAndOps(t *testing.T) {
	a, b := New("a", identity), New("b", identity)
	root := New("root", identity).SetKind(KindChain).AppendLayers(a, b)
	var names []string
	require.NoError(t, root.Walk(func(m *Model) error {
		names = append(names, m.Name())
		return nil
	}))
	assert.Equal(t, []string{"root", "a", "b"}, names)
	assert.Equal(t, KindChain, root.Kind())
	assert.Equal(t, "chain", root.Kind().String())
	require.Panics(t, func() { root.AppendLayers(nil) })

	stop := errors.New("stop")
	count := 0
	err := root.Walk(func(m *Model) error {
		count++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, count)

	require.NotNil(t, a.Ops())
	require.Same(t, DefaultOps(), a.Ops())
	root.SetOps(DefaultOps())
	require.Same(t, DefaultOps(), b.Ops())

	root.Attrs().Set("drop_factor", 2)
	assert.Equal(t, 2.0, GetAttrOr(root, "drop_factor", 1.0))
	assert.Equal(t, 1.0, GetAttrOr(a, "drop_factor", 1.0))
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestGetWidth(t *testing.T) {
	w, err := GetWidth(tensors.Zeros(3, 5))
	require.NoError(t, err)
	assert.Equal(t, 5, w)

	ragged, err := tensors.NewRagged(tensors.Zeros(4, 6), []int{1, 3})
	require.NoError(t, err)
	w, err = GetWidth(ragged)
	require.NoError(t, err)
	assert.Equal(t, 6, w)

	w, err = GetWidth([]*tensors.Tensor{tensors.Zeros(2, 9)})
	require.NoError(t, err)
	assert.Equal(t, 9, w)
	w, err = GetWidth([]*tensors.Tensor{})
	require.NoError(t, err)
	assert.Equal(t, 0, w)

	_, err = GetWidth(tensors.FromValue(float32(1)))
	require.ErrorIs(t, err, ErrShapeInference)
	_, err = GetWidth("hello")
	require.ErrorIs(t, err, ErrShapeInference)
	_, err = GetWidth(nil)
	require.ErrorIs(t, err, ErrShapeInference)
}

func TestSummary(t *testing.T) {
	m := newScale()
	require.NoError(t, m.SetDim("nO", 3))
	require.NoError(t, m.Initialize(nil, nil))
	root := New("root", identity).SetKind(KindChain).AppendLayers(m)
	summary := root.Summary()
	assert.Contains(t, summary, "root")
	assert.Contains(t, summary, "scale")
	assert.Contains(t, summary, "Total")
	assert.Contains(t, summary, "24 B")
}
