// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/cutmix/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromFlatDataAndDimensions(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	tensor := FromFlatDataAndDimensions(data, 2, 3)
	require.Equal(t, dtypes.Float32, tensor.DType())
	require.Equal(t, []int{2, 3}, tensor.Shape().Dimensions)
	require.Equal(t, []int{3, 1}, tensor.LayoutStrides())

	// Data is copied.
	data[0] = 100
	require.Equal(t, []float32{1, 2, 3, 4, 5, 6}, CopyFlatData[float32](tensor))

	require.Panics(t, func() { _ = FromFlatDataAndDimensions([]int32{1, 2, 3}, 2, 2) })
	require.Panics(t, func() { _ = CopyFlatData[float64](tensor) })
}

func TestFromShapeAndMutate(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Int32))
	assert.True(t, tensor.IsScalar())
	assert.Equal(t, []int32{0}, CopyFlatData[int32](tensor))

	tensor = FromFlatDataAndDimensions([]int32{0, 0, 0, 0}, 4)
	MutableFlatData(tensor, func(flat []int32) {
		for ii := range flat {
			flat[ii] = int32(ii * ii)
		}
	})
	require.Equal(t, []int32{0, 1, 4, 9}, CopyFlatData[int32](tensor))
	AssignFlatData(tensor, []int32{7, 7, 7, 7})
	require.Equal(t, []int32{7, 7, 7, 7}, CopyFlatData[int32](tensor))
	require.Panics(t, func() { AssignFlatData(tensor, []int32{1}) })

	require.Equal(t, 3.0, ToScalar[float64](FromScalar(3.0)))
	require.Panics(t, func() { _ = ToScalar[int32](tensor) })
}

func TestLocalCloneAndEqual(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2)
	clone := tensor.LocalClone()
	require.True(t, tensor.Equal(clone))
	MutableFlatData(clone, func(flat []float64) { flat[3] = 4.001 })
	require.False(t, tensor.Equal(clone))
	require.True(t, tensor.InDelta(clone, 0.01))
	require.False(t, tensor.InDelta(clone, 0.0001))
	require.False(t, tensor.Equal(FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 4)))
}

func TestGatherRows(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]int32{
		0, 1,
		10, 11,
		20, 21,
	}, 3, 2)
	gathered, err := GatherRows(tensor, []int{2, 0, 2, 1})
	require.NoError(t, err)
	require.Equal(t, []int{4, 2}, gathered.Shape().Dimensions)
	require.Equal(t, []int32{20, 21, 0, 1, 20, 21, 10, 11}, CopyFlatData[int32](gathered))

	// Original untouched.
	require.Equal(t, []int32{0, 1, 10, 11, 20, 21}, CopyFlatData[int32](tensor))

	_, err = GatherRows(tensor, []int{3})
	require.Error(t, err)
	_, err = GatherRows(FromScalar(1.0), []int{0})
	require.Error(t, err)

	sliced, err := SliceRows(tensor, 1, 3)
	require.NoError(t, err)
	require.Equal(t, []int32{10, 11, 20, 21}, CopyFlatData[int32](sliced))
	_, err = SliceRows(tensor, 2, 2)
	require.Error(t, err)
}

func TestToFloat64s(t *testing.T) {
	values, err := ToFloat64s(FromFlatDataAndDimensions([]int8{-1, 0, 3}, 3))
	require.NoError(t, err)
	require.Equal(t, []float64{-1, 0, 3}, values)

	halfs := []float16.Float16{float16.Fromfloat32(0.5), float16.Fromfloat32(-2)}
	values, err = ToFloat64s(FromFlatDataAndDimensions(halfs, 2))
	require.NoError(t, err)
	require.Equal(t, []float64{0.5, -2}, values)

	values, err = ToFloat64s(FromFlatDataAndDimensions([]bool{true, false}, 2))
	require.NoError(t, err)
	require.Equal(t, []float64{1, 0}, values)

	ints, err := ToInts(FromFlatDataAndDimensions([]int64{3, 1, 2}, 3))
	require.NoError(t, err)
	require.Equal(t, []int{3, 1, 2}, ints)
	_, err = ToInts(FromFlatDataAndDimensions([]float32{3}, 1))
	require.Error(t, err)
}

func TestFromFloat64s(t *testing.T) {
	tensor, err := FromFloat64s(dtypes.Uint8, []float64{0, 1.7, 255}, 3)
	require.NoError(t, err)
	require.Equal(t, []uint8{0, 1, 255}, CopyFlatData[uint8](tensor))

	tensor, err = FromFloat64s(dtypes.Float32, []float64{0.5, -1, 2, 3}, 2, 2)
	require.NoError(t, err)
	require.Equal(t, []int{2, 2}, tensor.Shape().Dimensions)
	values, err := ToFloat64s(tensor)
	require.NoError(t, err)
	require.Equal(t, []float64{0.5, -1, 2, 3}, values)

	_, err = FromFloat64s(dtypes.Float32, []float64{1, 2, 3}, 2, 2)
	require.Error(t, err)
	_, err = FromFloat64s(dtypes.Bool, []float64{1}, 1)
	require.Error(t, err)
}
