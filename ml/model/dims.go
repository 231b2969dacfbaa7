// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"strconv"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DimState is the state of a named dimension of a model.
type DimState int

const (
	// DimAbsent means the model doesn't declare the dimension.
	DimAbsent DimState = iota

	// DimUnset means the dimension is declared, but its value is not known yet.
	DimUnset

	// DimSet means the dimension is declared and has a value.
	DimSet
)

// String implements fmt.Stringer.
func (s DimState) String() string {
	switch s {
	case DimAbsent:
		return "absent"
	case DimUnset:
		return "unset"
	case DimSet:
		return "set"
	}
	return "unknown"
}

// DeclareDims declares the given dimension names, initially unset. Declaring an already declared
// dimension is a no-op. It returns the model itself, so calls can be cascaded.
func (m *Model) DeclareDims(names ...string) *Model {
	for _, name := range names {
		if _, found := m.dims[name]; found {
			continue
		}
		m.dims[name] = 0
		m.dimNames = append(m.dimNames, name)
	}
	return m
}

// HasDim returns whether the dimension is absent (not declared), declared but unset, or set.
func (m *Model) HasDim(name string) DimState {
	value, found := m.dims[name]
	switch {
	case !found:
		return DimAbsent
	case value == 0:
		return DimUnset
	default:
		return DimSet
	}
}

// GetDim returns the value of the dimension, or an error wrapping ErrShapeInference if it is not set.
func (m *Model) GetDim(name string) (int, error) {
	switch m.HasDim(name) {
	case DimAbsent:
		return 0, errors.Wrapf(ErrShapeInference, "model %q has no dimension %q", m.name, name)
	case DimUnset:
		return 0, errors.Wrapf(ErrShapeInference, "model %q dimension %q is not set", m.name, name)
	}
	return m.dims[name], nil
}

// DimOr returns the value of the dimension if it is set, or defaultValue otherwise.
func (m *Model) DimOr(name string, defaultValue int) int {
	if m.HasDim(name) != DimSet {
		return defaultValue
	}
	return m.dims[name]
}

// SetDim sets the value of a declared dimension.
//
// It returns an error wrapping ErrShapeInference if the dimension is not declared, if the value is not
// positive, or if the model's parameters are already allocated and the value would change.
func (m *Model) SetDim(name string, value int) error {
	current, found := m.dims[name]
	if !found {
		return errors.Wrapf(ErrShapeInference, "model %q has no dimension %q to set", m.name, name)
	}
	if value <= 0 {
		return errors.Wrapf(ErrShapeInference, "model %q dimension %q must be positive, got %d", m.name, name, value)
	}
	if current == value {
		return nil
	}
	if m.allocated && len(m.params) > 0 && current != 0 {
		return errors.Wrapf(ErrShapeInference, "model %q dimension %q is %d and its parameters are allocated, cannot change it to %d",
			m.name, name, current, value)
	}
	klog.V(1).Infof("model %q: %s=%d", m.name, name, value)
	m.dims[name] = value
	return nil
}

func (m *Model) dimString(name string) string {
	switch m.HasDim(name) {
	case DimSet:
		return strconv.Itoa(m.dims[name])
	case DimUnset:
		return "?"
	}
	return "-"
}
