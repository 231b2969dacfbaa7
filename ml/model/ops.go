// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"sync"

	"github.com/koaning/thinc/backends"
	_ "github.com/koaning/thinc/backends/default"
)

var (
	defaultOpsOnce sync.Once
	defaultOps     backends.Ops
)

// DefaultOps returns the process-wide backend shared by all models without their own, created
// on first use with backends.New (see backends.ConfigEnvVar).
func DefaultOps() backends.Ops {
	defaultOpsOnce.Do(func() {
		defaultOps = backends.New()
	})
	return defaultOps
}

type opsHolder struct {
	ops backends.Ops
}

// Ops returns the backend used by the model: its own if set with SetOps, otherwise DefaultOps().
func (m *Model) Ops() backends.Ops {
	if m.ops.ops != nil {
		return m.ops.ops
	}
	return DefaultOps()
}

// SetOps sets the backend of the model and all its sublayers.
func (m *Model) SetOps(ops backends.Ops) {
	_ = m.Walk(func(node *Model) error {
		node.ops.ops = ops
		return nil
	})
}
