// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package losses

import (
	"testing"

	"github.com/koaning/thinc/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deltaForTests = 1e-6

func TestMeanSquaredError(t *testing.T) {
	predictions := tensors.FromValue([][]float32{{1, 2}, {3, 4}})
	labels := tensors.FromValue([][]float32{{1, 0}, {4, 4}})
	loss, grad, err := MeanSquaredError(predictions, labels)
	require.NoError(t, err)
	assert.InDelta(t, (4.0+1.0)/4, loss, deltaForTests)
	assert.True(t, grad.InDelta(tensors.FromValue([][]float32{{0, 1}, {-0.5, 0}}), deltaForTests))

	_, _, err = MeanSquaredError(predictions, tensors.Zeros(4))
	require.Error(t, err)
	_, _, err = MeanSquaredError(nil, labels)
	require.Error(t, err)

	loss, grad, err = MeanSquaredError(tensors.Zeros(0, 2), tensors.Zeros(0, 2))
	require.NoError(t, err)
	assert.Equal(t, 0.0, loss)
	assert.Equal(t, 0, grad.Size())
}

func TestMeanAbsoluteError(t *testing.T) {
	predictions := tensors.FromValue([]float32{1, 2, 3, 4})
	labels := tensors.FromValue([]float32{1, 0, 4, 5})
	loss, grad, err := MeanAbsoluteError(predictions, labels)
	require.NoError(t, err)
	assert.InDelta(t, (0.0+2+1+1)/4, loss, deltaForTests)
	assert.Equal(t, []float32{0, 0.25, -0.25, -0.25}, grad.Flat())

	_, _, err = MeanAbsoluteError(predictions, tensors.Zeros(2, 2))
	require.Error(t, err)
}
