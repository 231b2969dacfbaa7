// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOr(t *testing.T) {
	p := New("learning_rate", 1, "beta1", float32(0.5), "name", "adam", "empty", nil)
	assert.Equal(t, 1.0, GetOr(p, "learning_rate", 0.1))
	assert.Equal(t, 0.5, GetOr(p, "beta1", 0.9))
	assert.Equal(t, "adam", GetOr(p, "name", "sgd"))
	assert.Equal(t, 0.9, GetOr(p, "beta2", 0.9))
	assert.Equal(t, 0.9, GetOr(p, "empty", 0.9))
	assert.False(t, p.Has("empty"))
	assert.True(t, p.Has("name"))
	assert.Equal(t, []string{"beta1", "empty", "learning_rate", "name"}, p.Keys())

	require.Panics(t, func() { GetOr(p, "name", 1.0) })
	require.Panics(t, func() { GetOr(p, "learning_rate", "x") })
	require.Panics(t, func() { MustGet[int](p, "missing") })
	require.Panics(t, func() { New("a") })
	require.Panics(t, func() { New(1, 2) })

	clone := p.Clone().Set("name", "sgd")
	assert.Equal(t, "adam", GetOr(p, "name", ""))
	assert.Equal(t, "sgd", GetOr(clone, "name", ""))
}
