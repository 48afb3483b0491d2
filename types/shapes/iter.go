// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import "iter"

// Iter iterates over all indices of the shape in row-major order (the last axis changes fastest).
// To avoid allocations, the yielded slice is owned by Iter: don't change it inside the loop,
// and clone it if it needs to be kept.
//
// Invalid shapes yield nothing, and scalars yield one empty index.
func (s Shape) Iter() iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		if !s.Ok() {
			return
		}
		rank := s.Rank()
		if rank == 0 {
			_ = yield(make([]int, 0))
			return
		}
		for _, dim := range s.Dimensions {
			if dim <= 0 {
				return
			}
		}
		indices := make([]int, rank)
		for {
			if !yield(indices) {
				return
			}
			axis := rank - 1
			for ; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < s.Dimensions[axis] {
					break
				}
				// Carry over to the previous axis.
				indices[axis] = 0
			}
			if axis < 0 {
				return
			}
		}
	}
}

// FlatIndex returns the position of the given indices in a row-major flat slice with this shape.
// It doesn't check bounds.
func (s Shape) FlatIndex(indices []int) int {
	flat := 0
	for axis, idx := range indices {
		flat = flat*s.Dimensions[axis] + idx
	}
	return flat
}
