// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"slices"

	"github.com/koaning/thinc/types/shapes"
	"github.com/pkg/errors"
)

// Ragged is a batch of variable-length sequences, concatenated along the first axis of Data.
//
// Sequence ii occupies the rows [Starts()[ii], Starts()[ii]+Lengths[ii]) of Data. Rows
// after sum(Lengths) are padding and are ignored by pooling.
type Ragged struct {
	Data    *Tensor
	Lengths []int
}

// NewRagged validates data and lengths and returns the Ragged batch.
// It returns an error if data is not rank 2, if any length is negative or if the lengths
// add up to more rows than data has.
func NewRagged(data *Tensor, lengths []int) (*Ragged, error) {
	if data == nil {
		return nil, errors.New("tensors.NewRagged: nil data")
	}
	if err := data.Shape().CheckRank(2); err != nil {
		return nil, errors.WithMessage(err, "tensors.NewRagged: data must be [rows, width]")
	}
	total := 0
	for ii, length := range lengths {
		if length < 0 {
			return nil, errors.Errorf("tensors.NewRagged: sequence %d has negative length %d", ii, length)
		}
		total += length
	}
	if total > data.Dim(0) {
		return nil, errors.Errorf("tensors.NewRagged: lengths %v add up to %d rows, but data %s has only %d",
			lengths, total, data.Shape(), data.Dim(0))
	}
	return &Ragged{Data: data, Lengths: slices.Clone(lengths)}, nil
}

// Shape returns the shape of the underlying data. It implements shapes.HasShape.
func (r *Ragged) Shape() shapes.Shape { return r.Data.Shape() }

// NumSequences returns the number of sequences in the batch.
func (r *Ragged) NumSequences() int { return len(r.Lengths) }

// Starts returns the first row of each sequence.
func (r *Ragged) Starts() []int {
	starts := make([]int, len(r.Lengths))
	pos := 0
	for ii, length := range r.Lengths {
		starts[ii] = pos
		pos += length
	}
	return starts
}

// Clone returns a deep copy of the ragged batch.
func (r *Ragged) Clone() *Ragged {
	return &Ragged{Data: r.Data.Clone(), Lengths: slices.Clone(r.Lengths)}
}
