// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"maps"
	"slices"

	"github.com/gomlx/cutmix/types/tensors"
	"github.com/pkg/errors"
)

// Batch holds the named tensors of one step of a loader.
//
// Inputs are yielded by the Dataset (e.g. "features" and "targets"), Outputs are filled by the
// model (e.g. "logits") and Metrics collects scalar values reported during the step (the loss
// included).
//
// Loss is the LossProvider used for this batch only: the Loop sets it to its base provider before
// the OnBatchStart hooks are called, and hooks may replace it (typically wrapping the base provider).
// It is discarded with the batch.
type Batch struct {
	Inputs  map[string]*tensors.Tensor
	Outputs map[string]*tensors.Tensor
	Metrics map[string]float64
	Loss    LossProvider
}

// NewBatch creates a Batch with the given inputs and empty outputs and metrics.
func NewBatch(inputs map[string]*tensors.Tensor) *Batch {
	if inputs == nil {
		inputs = make(map[string]*tensors.Tensor)
	}
	return &Batch{
		Inputs:  inputs,
		Outputs: make(map[string]*tensors.Tensor),
		Metrics: make(map[string]float64),
	}
}

// Size returns the batch size: the leading dimension of the first input (sorted by name).
// It returns 0 if there are no inputs, or if the first input is a scalar.
func (b *Batch) Size() int {
	if len(b.Inputs) == 0 {
		return 0
	}
	first := b.Inputs[slices.Min(slices.Collect(maps.Keys(b.Inputs)))]
	if first == nil || first.Rank() == 0 {
		return 0
	}
	return first.Shape().Dimensions[0]
}

// Input returns the input with the given key, or an error if it is not present.
func (b *Batch) Input(key string) (*tensors.Tensor, error) {
	t, found := b.Inputs[key]
	if !found || t == nil {
		return nil, errors.Errorf("batch has no input %q (inputs: %v)", key, sortedKeys(b.Inputs))
	}
	return t, nil
}

// Output returns the output with the given key, or an error if the model didn't set it.
func (b *Batch) Output(key string) (*tensors.Tensor, error) {
	t, found := b.Outputs[key]
	if !found || t == nil {
		return nil, errors.Errorf("batch has no output %q (outputs: %v)", key, sortedKeys(b.Outputs))
	}
	return t, nil
}

// Clone returns a deep copy of the inputs and outputs of the batch, and a copy of its metrics.
// The Loss provider is shared.
func (b *Batch) Clone() *Batch {
	clone := NewBatch(nil)
	for key, t := range b.Inputs {
		clone.Inputs[key] = t.LocalClone()
	}
	for key, t := range b.Outputs {
		clone.Outputs[key] = t.LocalClone()
	}
	maps.Copy(clone.Metrics, b.Metrics)
	clone.Loss = b.Loss
	return clone
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
