// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"reflect"

	"github.com/pkg/errors"
)

// GatherRows returns a new tensor where row `i` (along axis 0) is a copy of row `indices[i]` of `t`.
//
// The result has the same shape as `t`, except for the leading axis, which has dimension `len(indices)`.
// It works with any dtype.
func GatherRows(t *Tensor, indices []int) (*Tensor, error) {
	if t.Rank() == 0 {
		return nil, errors.Errorf("GatherRows requires a tensor with rank >= 1, got shape %s", t.Shape())
	}
	if len(indices) == 0 {
		return nil, errors.Errorf("GatherRows requires at least one index, got none for shape %s", t.Shape())
	}
	numRows := t.Shape().Dimensions[0]
	for ii, idx := range indices {
		if idx < 0 || idx >= numRows {
			return nil, errors.Errorf("GatherRows: indices[%d]=%d out of range for shape %s", ii, idx, t.Shape())
		}
	}
	rowSize := t.Shape().RowSize()
	gathered := FromShape(t.Shape().WithLeadingDim(len(indices)))
	t.ConstFlatData(func(flat any) {
		gathered.MutableFlatData(func(toFlat any) {
			fromV, toV := reflect.ValueOf(flat), reflect.ValueOf(toFlat)
			for toRow, fromRow := range indices {
				reflect.Copy(
					toV.Slice(toRow*rowSize, (toRow+1)*rowSize),
					fromV.Slice(fromRow*rowSize, (fromRow+1)*rowSize))
			}
		})
	})
	return gathered, nil
}

// SliceRows returns a new tensor with a copy of the rows `[from, to)` (along axis 0) of `t`.
func SliceRows(t *Tensor, from, to int) (*Tensor, error) {
	if t.Rank() == 0 {
		return nil, errors.Errorf("SliceRows requires a tensor with rank >= 1, got shape %s", t.Shape())
	}
	numRows := t.Shape().Dimensions[0]
	if from < 0 || to > numRows || from >= to {
		return nil, errors.Errorf("SliceRows(%d, %d) invalid for shape %s", from, to, t.Shape())
	}
	indices := make([]int, 0, to-from)
	for ii := from; ii < to; ii++ {
		indices = append(indices, ii)
	}
	return GatherRows(t, indices)
}
