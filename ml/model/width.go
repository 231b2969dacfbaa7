// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"github.com/koaning/thinc/types/tensors"
	"github.com/pkg/errors"
)

// GetWidth infers the width (size of the last axis) of a sample value:
//
//   - *tensors.Tensor: its last dimension; scalars have no width.
//   - *tensors.Ragged: the width of its data.
//   - []*tensors.Tensor: the width of the first element, or 0 if empty.
//
// Anything else returns an error wrapping ErrShapeInference.
func GetWidth(y any) (int, error) {
	switch v := y.(type) {
	case *tensors.Tensor:
		if v == nil {
			break
		}
		if v.Rank() == 0 {
			return 0, errors.Wrapf(ErrShapeInference, "cannot get width of scalar %s", v.Shape())
		}
		return v.Dim(-1), nil
	case *tensors.Ragged:
		if v == nil || v.Data == nil {
			break
		}
		return GetWidth(v.Data)
	case []*tensors.Tensor:
		if len(v) == 0 {
			return 0, nil
		}
		return GetWidth(v[0])
	}
	return 0, errors.Wrapf(ErrShapeInference, "cannot get width of value of type %T", y)
}
