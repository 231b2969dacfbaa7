// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import "github.com/pkg/errors"

var (
	// ErrShapeInference is returned when a required dimension cannot be resolved, or when a value
	// doesn't have the dimensions a model expects.
	ErrShapeInference = errors.New("shape inference error")

	// ErrEmptyComposition is returned when a composite model without sublayers is called.
	ErrEmptyComposition = errors.New("empty composition")

	// ErrBackpropReused is returned when a Backprop record is invoked more than once.
	ErrBackpropReused = errors.New("backprop record already used")
)
