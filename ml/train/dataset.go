// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"io"
	"math/rand/v2"

	"github.com/koaning/thinc/types/tensors"
	"github.com/pkg/errors"
)

// Dataset for a train.Loop or Trainer.Eval.
type Dataset interface {
	// Name identifies the dataset. Used for debugging, pretty-printing and plots.
	Name() string

	// Yield one "batch": the input x to the model (a *tensors.Tensor, a *tensors.Ragged or whatever the
	// model's first layer takes) and the labels used by the loss function.
	//
	// It returns io.EOF at the end of an epoch. Any other error interrupts the training.
	Yield() (x any, labels *tensors.Tensor, err error)

	// Reset restarts the dataset from the beginning. Called after an io.EOF is returned by Yield,
	// to start the next epoch.
	Reset()
}

// InMemoryDataset is a Dataset that holds all its batches in memory.
type InMemoryDataset struct {
	name     string
	xs       []any
	labels   []*tensors.Tensor
	order    []int
	next     int
	infinite bool
	rng      *rand.Rand
}

var _ Dataset = (*InMemoryDataset)(nil)

// NewInMemoryDataset creates a dataset that yields the given batches in order.
// xs and labels must have the same length.
func NewInMemoryDataset(name string, xs []any, labels []*tensors.Tensor) (*InMemoryDataset, error) {
	if len(xs) != len(labels) {
		return nil, errors.Errorf("NewInMemoryDataset(%q): got %d inputs but %d labels", name, len(xs), len(labels))
	}
	ds := &InMemoryDataset{name: name, xs: xs, labels: labels, order: make([]int, len(xs))}
	for ii := range ds.order {
		ds.order[ii] = ii
	}
	return ds, nil
}

// Infinite makes the dataset loop over its batches, never returning io.EOF.
// Typically used with Loop.RunSteps.
func (ds *InMemoryDataset) Infinite(infinite bool) *InMemoryDataset {
	ds.infinite = infinite
	return ds
}

// Shuffle the order of the batches at every epoch (every Reset, or every wrap-around if Infinite).
func (ds *InMemoryDataset) Shuffle(rng *rand.Rand) *InMemoryDataset {
	ds.rng = rng
	ds.shuffle()
	return ds
}

func (ds *InMemoryDataset) shuffle() {
	if ds.rng == nil {
		return
	}
	ds.rng.Shuffle(len(ds.order), func(i, j int) {
		ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
	})
}

// Name implements train.Dataset.
func (ds *InMemoryDataset) Name() string { return ds.name }

// Yield implements train.Dataset.
func (ds *InMemoryDataset) Yield() (x any, labels *tensors.Tensor, err error) {
	if ds.next >= len(ds.order) {
		if !ds.infinite || len(ds.order) == 0 {
			return nil, nil, io.EOF
		}
		ds.Reset()
	}
	idx := ds.order[ds.next]
	ds.next++
	return ds.xs[idx], ds.labels[idx], nil
}

// Reset implements train.Dataset.
func (ds *InMemoryDataset) Reset() {
	ds.next = 0
	ds.shuffle()
}
