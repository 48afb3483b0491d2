// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"io"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/gomlx/cutmix/ml/train"
	"github.com/gomlx/cutmix/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// InMemory is a train.Dataset that holds all its examples in memory, as tensors whose leading
// axis is the example axis, and yields them in batches.
//
// Each yielded batch holds fresh copies of the rows, so hooks can mutate them in place without
// affecting the dataset.
//
// It is safe for concurrent use, so it can be wrapped by Parallel.
type InMemory struct {
	name        string
	fields      map[string]*tensors.Tensor
	numExamples int
	batchSize   int

	mu                 sync.Mutex
	rng                *rand.Rand
	order              []int
	next               int
	dropIncomplete     bool
	infinite, shuffled bool
}

var _ train.Dataset = (*InMemory)(nil)

// NewInMemory creates an InMemory dataset with the given fields, yielding batches of batchSize examples.
// All fields must have the same leading dimension (the number of examples), and at least one field is required.
//
// The fields tensors are owned by the dataset and shouldn't be changed afterwards.
func NewInMemory(name string, fields map[string]*tensors.Tensor, batchSize int) (*InMemory, error) {
	if len(fields) == 0 {
		return nil, errors.Errorf("NewInMemory(%q): at least one field is required", name)
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("NewInMemory(%q): batchSize must be > 0, got %d", name, batchSize)
	}
	numExamples := -1
	for _, key := range sortedKeys(fields) {
		field := fields[key]
		if field == nil || field.Rank() == 0 {
			return nil, errors.Errorf("NewInMemory(%q): field %q must have rank >= 1", name, key)
		}
		dim := field.Shape().Dimensions[0]
		if numExamples == -1 {
			numExamples = dim
		} else if dim != numExamples {
			return nil, errors.Errorf("NewInMemory(%q): field %q has shape %s, but other fields have %d examples",
				name, key, field.Shape(), numExamples)
		}
	}
	if numExamples == 0 {
		return nil, errors.Errorf("NewInMemory(%q): no examples", name)
	}
	ds := &InMemory{
		name:        name,
		fields:      fields,
		numExamples: numExamples,
		batchSize:   batchSize,
		order:       make([]int, numExamples),
	}
	for ii := range ds.order {
		ds.order[ii] = ii
	}
	return ds, nil
}

// Shuffle the examples at every epoch, using the given random number generator.
//
// It returns the dataset, so calls can be cascaded.
func (ds *InMemory) Shuffle(rng *rand.Rand) *InMemory {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.rng = rng
	ds.shuffled = true
	ds.shuffle()
	return ds
}

// DropIncompleteBatch makes the dataset skip the last batch of an epoch, if it has fewer than batchSize examples.
//
// It returns the dataset, so calls can be cascaded.
func (ds *InMemory) DropIncompleteBatch() *InMemory {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.dropIncomplete = true
	return ds
}

// Infinite makes the dataset loop over the examples indefinitely (reshuffling at every pass),
// never returning io.EOF. Use it with train.Loop.RunSteps.
//
// It returns the dataset, so calls can be cascaded.
func (ds *InMemory) Infinite(infinite bool) *InMemory {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.infinite = infinite
	return ds
}

// NumExamples in the dataset.
func (ds *InMemory) NumExamples() int { return ds.numExamples }

// BatchSize of the yielded batches.
func (ds *InMemory) BatchSize() int { return ds.batchSize }

// Field returns the tensor holding all examples of the given field, or nil if not present.
// It shouldn't be modified.
func (ds *InMemory) Field(key string) *tensors.Tensor { return ds.fields[key] }

// Name implements train.Dataset.
func (ds *InMemory) Name() string { return ds.name }

// Reset implements train.Dataset.
func (ds *InMemory) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.next = 0
	ds.shuffle()
}

// shuffle reorders the examples, if shuffling is enabled. It must be called with mu locked.
func (ds *InMemory) shuffle() {
	if !ds.shuffled {
		return
	}
	ds.rng.Shuffle(len(ds.order), func(i, j int) {
		ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
	})
}

// Yield implements train.Dataset.
func (ds *InMemory) Yield() (*train.Batch, error) {
	indices, err := ds.nextIndices()
	if err != nil {
		return nil, err
	}
	inputs := make(map[string]*tensors.Tensor, len(ds.fields))
	for key, field := range ds.fields {
		rows, err := tensors.GatherRows(field, indices)
		if err != nil {
			return nil, errors.WithMessagef(err, "dataset %q field %q", ds.name, key)
		}
		inputs[key] = rows
	}
	return train.NewBatch(inputs), nil
}

// nextIndices returns the indices of the examples of the next batch.
func (ds *InMemory) nextIndices() ([]int, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	remaining := ds.numExamples - ds.next
	if remaining == 0 || (ds.dropIncomplete && remaining < ds.batchSize) {
		if !ds.infinite {
			return nil, io.EOF
		}
		if ds.dropIncomplete && ds.batchSize > ds.numExamples {
			return nil, errors.Errorf("dataset %q has %d examples, not enough for one batch of %d",
				ds.name, ds.numExamples, ds.batchSize)
		}
		klog.V(2).Infof("dataset %q: restarting infinite pass over %d examples", ds.name, ds.numExamples)
		ds.next = 0
		ds.shuffle()
		remaining = ds.numExamples
	}
	size := min(ds.batchSize, remaining)
	indices := slices.Clone(ds.order[ds.next : ds.next+size])
	ds.next += size
	return indices, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
