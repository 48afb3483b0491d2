// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"github.com/gomlx/cutmix/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// ToFloat64s returns a copy of the tensor values converted to float64.
//
// It works for all integer and float dtypes, including Float16 and BFloat16.
// Bool values are converted to 0 and 1. Complex dtypes return an error.
func ToFloat64s(t *Tensor) (values []float64, err error) {
	t.ConstFlatData(func(flat any) {
		switch flat := flat.(type) {
		case []float64:
			values = convertNumbers(flat)
		case []float32:
			values = convertNumbers(flat)
		case []int:
			values = convertNumbers(flat)
		case []int8:
			values = convertNumbers(flat)
		case []int16:
			values = convertNumbers(flat)
		case []int32:
			values = convertNumbers(flat)
		case []int64:
			values = convertNumbers(flat)
		case []uint8:
			values = convertNumbers(flat)
		case []uint16:
			values = convertNumbers(flat)
		case []uint32:
			values = convertNumbers(flat)
		case []uint64:
			values = convertNumbers(flat)
		case []float16.Float16:
			values = make([]float64, len(flat))
			for ii, v := range flat {
				values[ii] = float64(v.Float32())
			}
		case []bfloat16.BFloat16:
			values = make([]float64, len(flat))
			for ii, v := range flat {
				values[ii] = float64(v.Float32())
			}
		case []bool:
			values = make([]float64, len(flat))
			for ii, v := range flat {
				if v {
					values[ii] = 1
				}
			}
		default:
			err = errors.Errorf("ToFloat64s: dtype %s not supported", t.DType())
		}
	})
	return
}

// ToInts returns a copy of the tensor values converted to int. It only accepts integer dtypes.
func ToInts(t *Tensor) (values []int, err error) {
	if !t.DType().IsInt() {
		return nil, errors.Errorf("ToInts requires an integer dtype, got %s", t.DType())
	}
	floats, err := ToFloat64s(t)
	if err != nil {
		return nil, err
	}
	values = make([]int, len(floats))
	for ii, v := range floats {
		values[ii] = int(v)
	}
	return
}

func convertNumbers[T constraints.Integer | constraints.Float](flat []T) []float64 {
	values := make([]float64, len(flat))
	for ii, v := range flat {
		values[ii] = float64(v)
	}
	return values
}

// FromFloat64s creates a tensor of the given dtype and dimensions, converting the float64 values.
// Values are truncated (not rounded) when converting to integer dtypes.
//
// It returns an error if len(values) doesn't match the dimensions or if the dtype is not numeric.
func FromFloat64s(dtype dtypes.DType, values []float64, dimensions ...int) (t *Tensor, err error) {
	shape := shapes.Make(dtype, dimensions...)
	if len(values) != shape.Size() {
		return nil, errors.Errorf("FromFloat64s: %d values given for shape %s, which requires %d",
			len(values), shape, shape.Size())
	}
	switch dtype {
	case dtypes.Float64:
		return FromFlatDataAndDimensions(values, dimensions...), nil
	case dtypes.Float32:
		return fromNumbers[float32](values, dimensions), nil
	case dtypes.Int8:
		return fromNumbers[int8](values, dimensions), nil
	case dtypes.Int16:
		return fromNumbers[int16](values, dimensions), nil
	case dtypes.Int32:
		return fromNumbers[int32](values, dimensions), nil
	case dtypes.Int64:
		return fromNumbers[int64](values, dimensions), nil
	case dtypes.Uint8:
		return fromNumbers[uint8](values, dimensions), nil
	case dtypes.Uint16:
		return fromNumbers[uint16](values, dimensions), nil
	case dtypes.Uint32:
		return fromNumbers[uint32](values, dimensions), nil
	case dtypes.Uint64:
		return fromNumbers[uint64](values, dimensions), nil
	case dtypes.Float16:
		flat := make([]float16.Float16, len(values))
		for ii, v := range values {
			flat[ii] = float16.Fromfloat32(float32(v))
		}
		return FromFlatDataAndDimensions(flat, dimensions...), nil
	case dtypes.BFloat16:
		flat := make([]bfloat16.BFloat16, len(values))
		for ii, v := range values {
			flat[ii] = bfloat16.FromFloat32(float32(v))
		}
		return FromFlatDataAndDimensions(flat, dimensions...), nil
	}
	return nil, errors.Errorf("FromFloat64s: dtype %s not supported", dtype)
}

func fromNumbers[T dtypes.NumberNotComplex](values []float64, dimensions []int) *Tensor {
	flat := make([]T, len(values))
	for ii, v := range values {
		flat[ii] = T(v)
	}
	t := newTensor(shapes.Make(dtypes.FromGenericsType[T](), dimensions...))
	t.flat = flat
	return t
}
