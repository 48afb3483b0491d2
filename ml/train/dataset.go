// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import "strings"

// Dataset for a training loop. Each Dataset is a "loader": the Loop runs each of them in turn,
// and Name is used as the loader (phase) name, e.g. "train" or "valid".
type Dataset interface {
	// Name identifies the dataset. Loaders whose names start with "train" are training loaders.
	Name() string

	// Yield one batch. It returns io.EOF at the end of the dataset (the end of an epoch).
	//
	// The returned Batch is owned by the Loop: hooks may mutate its tensors in place.
	Yield() (batch *Batch, err error)

	// Reset restarts the dataset from the beginning. It is called after io.EOF is returned,
	// before the next epoch.
	Reset()
}

// TrainLoaderPrefix is the prefix of loader names considered training loaders.
const TrainLoaderPrefix = "train"

// IsTrainLoader returns whether a loader with the given name is a training loader.
func IsTrainLoader(name string) bool {
	return strings.HasPrefix(name, TrainLoaderPrefix)
}

// LossProvider computes the scalar loss of a batch, after the model has filled its Outputs.
type LossProvider interface {
	Loss(batch *Batch) (float64, error)
}

// LossProviderFn adapts a function to a LossProvider.
type LossProviderFn func(batch *Batch) (float64, error)

// Loss implements LossProvider.
func (fn LossProviderFn) Loss(batch *Batch) (float64, error) { return fn(batch) }

// ModelFn runs the model on the batch Inputs, and sets the batch Outputs.
type ModelFn func(loop *Loop, batch *Batch) error
