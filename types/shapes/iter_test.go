// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"slices"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape_Iter(t *testing.T) {
	collectAll := func(shape Shape) [][]int {
		collect := make([][]int, 0, shape.Size())
		for indices := range shape.Iter() {
			collect = append(collect, slices.Clone(indices))
		}
		return collect
	}
	require.Equal(t, [][]int{{0, 0, 0}}, collectAll(Make(dtypes.Float32, 1, 1, 1)))
	require.Equal(t, [][]int{{}}, collectAll(Make(dtypes.Float32)))
	require.Empty(t, collectAll(Invalid()))

	shape := Make(dtypes.Float64, 3, 1, 2)
	want := [][]int{
		{0, 0, 0},
		{0, 0, 1},
		{1, 0, 0},
		{1, 0, 1},
		{2, 0, 0},
		{2, 0, 1},
	}
	require.Equal(t, want, collectAll(shape))

	// FlatIndex follows the iteration order.
	count := 0
	for indices := range shape.Iter() {
		require.Equal(t, count, shape.FlatIndex(indices))
		count++
	}
	require.Equal(t, shape.Size(), count)

	// Early stop.
	count = 0
	for range Make(dtypes.Int32, 4, 4).Iter() {
		count++
		if count == 5 {
			break
		}
	}
	require.Equal(t, 5, count)
}
