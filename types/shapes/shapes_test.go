// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.Equal(t, 3*2, shape1.RowSize())
	require.Contains(t, shape1.String(), "[4 3 2]")

	require.Panics(t, func() { _ = Make(dtypes.Float32, 4, 0) })
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 3, shape.Dim(1))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 3, shape.Dim(-2))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestEqualAndClone(t *testing.T) {
	s := Make(dtypes.Int32, 2, 5)
	s2 := s.Clone()
	require.True(t, s.Equal(s2))
	s2.Dimensions[0] = 3
	require.False(t, s.Equal(s2))
	require.Equal(t, 2, s.Dimensions[0])

	require.False(t, s.Equal(Make(dtypes.Int64, 2, 5)))
	require.True(t, s.EqualDimensions(Make(dtypes.Int64, 2, 5)))

	s3 := s.WithLeadingDim(7)
	require.Equal(t, []int{7, 5}, s3.Dimensions)
	require.Equal(t, []int{2, 5}, s.Dimensions)
}

func TestChecks(t *testing.T) {
	s := Make(dtypes.Float32, 4, 3, 8, 8)
	require.NoError(t, s.CheckDims(4, -1, 8, 8))
	require.Error(t, s.CheckDims(4, 3, 8))
	require.Error(t, s.CheckDims(5, 3, 8, 8))
	require.NoError(t, s.Check(dtypes.Float32, 4, 3, 8, 8))
	require.Error(t, s.Check(dtypes.Float64, 4, 3, 8, 8))
	require.NoError(t, CheckRank(s, 4))
	require.NoError(t, s.CheckRankIn(3, 4))
	require.Error(t, s.CheckRankIn(2, 3))
	require.NotPanics(t, func() { AssertDims(s, -1, 3, -1, -1) })
	require.Panics(t, func() { AssertRank(s, 2) })
}
