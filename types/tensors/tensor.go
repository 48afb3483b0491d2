// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a host `Tensor`, a representation of a multidimensional array.
//
// Tensors are multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large dimensions), defined
// by their shape (a data type and its axes' dimensions) and their actual content, stored in row-major order
// as a flat Go slice of the DType's Go type.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalar[T dtypes.Supported](value T): creates a scalar Tensor.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
// Tensors in this package only live in host memory: they are the containers handed around by the
// training loop hooks (data augmentation, losses, metrics) before or after a model consumes them.
package tensors

import (
	"fmt"
	"math"
	"reflect"
	"sync"

	"github.com/gomlx/cutmix/types/shapes"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Tensor represents a multidimensional array defined by its shape, a data type (dtypes.DType) and its
// axes' dimensions, and their actual content stored as a flat (1D) array of values.
//
// Access to the data is done through ConstFlatData and MutableFlatData (or their generic versions),
// which lock the Tensor while the access function runs.
type Tensor struct {
	// shape of the tensor, considered immutable.
	shape shapes.Shape

	// mu protects flat.
	mu sync.Mutex

	// flat holds the array with actual data. It's a slice of the Go type for the dtype of the shape.
	flat any
}

// newTensor returns a Tensor object initialized only with the shape, but no actual storage.
func newTensor(shape shapes.Shape) *Tensor {
	return &Tensor{shape: shape}
}

// Shape of the Tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
// It is a shortcut to `Tensor.Shape().DType`.
func (t *Tensor) DType() dtypes.DType {
	return t.shape.DType
}

// Rank returns the rank of the tensor's shape.
// It is a shortcut to `Tensor.Shape().Rank()`.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor represents a scalar value.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
// It is a shortcut to `Tensor.Shape().Size()`.
func (t *Tensor) Size() int { return t.shape.Size() }

// AssertValid panics if the tensor is nil or has no data.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.Panicf("tensor is nil")
	}
	if t.flat == nil {
		exceptions.Panicf("tensor %s has no data", t.shape)
	}
}

// String implements fmt.Stringer. Large tensors are truncated.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	const maxElements = 32
	var str string
	t.ConstFlatData(func(flat any) {
		flatV := reflect.ValueOf(flat)
		if flatV.Len() <= maxElements {
			str = fmt.Sprintf("%s: %v", t.shape, flat)
			return
		}
		str = fmt.Sprintf("%s: %v...", t.shape, flatV.Slice(0, maxElements).Interface())
	})
	return str
}

// Equal checks whether the tensors have the same shape and the exact same values.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	if t == otherTensor {
		return true
	}
	if t == nil || otherTensor == nil {
		return false
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	var equal bool
	t.ConstFlatData(func(flat any) {
		otherTensor.ConstFlatData(func(otherFlat any) {
			equal = reflect.DeepEqual(flat, otherFlat)
		})
	})
	return equal
}

// InDelta checks whether the tensors have the same shape and all values within delta of each other.
// It only works for numeric dtypes.
func (t *Tensor) InDelta(otherTensor *Tensor, delta float64) bool {
	if t == nil || otherTensor == nil {
		return t == otherTensor
	}
	if !t.shape.EqualDimensions(otherTensor.shape) {
		return false
	}
	values, err := ToFloat64s(t)
	if err != nil {
		return false
	}
	otherValues, err := ToFloat64s(otherTensor)
	if err != nil {
		return false
	}
	for ii, v := range values {
		if math.Abs(v-otherValues[ii]) > delta {
			return false
		}
	}
	return true
}
