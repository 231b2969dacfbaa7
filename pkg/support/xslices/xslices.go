// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provide missing functionality to the slices package, focused on
// the flat numeric buffers used by tensors and optimizers.
package xslices

import (
	"cmp"
	"math"
	"slices"

	"golang.org/x/exp/constraints"
)

// Number is any of the numeric types handled by the helpers below.
type Number interface {
	constraints.Integer | constraints.Float
}

// Epsilon is the default tolerance used when comparing floats in tests.
const Epsilon = 1e-4

// At takes an element at the given `index`, where `index` can be negative, in which case it takes from the end
// of the slice.
func At[T any](slice []T, index int) T {
	if index < 0 {
		index = len(slice) + index
	}
	return slice[index]
}

// Last returns the last element of a slice.
func Last[T any](slice []T) T {
	return At(slice, -1)
}

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// FillSlice fills the slice with the given value.
func FillSlice[T any](slice []T, value T) {
	for ii := range slice {
		slice[ii] = value
	}
}

// SliceWithValue creates a slice of given size filled with given value.
func SliceWithValue[T any](size int, value T) []T {
	s := make([]T, size)
	FillSlice(s, value)
	return s
}

// Iota returns a slice of incremental values, starting with start and of length len.
// Eg: Iota(3.0, 2) -> []float64{3.0, 4.0}
func Iota[T Number](start T, len int) (slice []T) {
	slice = make([]T, len)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return
}

// Sum returns the sum of the values, accumulated in float64.
func Sum[T Number](slice []T) float64 {
	var sum float64
	for _, v := range slice {
		sum += float64(v)
	}
	return sum
}

// Max returns the maximum value of the slice. It panics for an empty slice.
func Max[T cmp.Ordered](slice []T) T {
	return slices.Max(slice)
}

// SlicesInDelta checks whether s0 and s1 have the same length and that each of their
// values are within the given delta. NaNs are never in delta.
func SlicesInDelta[T constraints.Float](s0, s1 []T, delta float64) bool {
	if len(s0) != len(s1) {
		return false
	}
	for ii := range s0 {
		diff := math.Abs(float64(s0[ii]) - float64(s1[ii]))
		if math.IsNaN(diff) || diff > delta {
			return false
		}
	}
	return true
}

// AllFinite returns false if any of the values is NaN or infinite.
func AllFinite[T constraints.Float](slice []T) bool {
	for _, v := range slice {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
