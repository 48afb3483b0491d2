// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cutmix

import (
	"github.com/gomlx/cutmix/ml/train"
	"github.com/gomlx/cutmix/ml/train/losses"
	"github.com/gomlx/cutmix/types/tensors"
	"github.com/pkg/errors"
)

// Mix is the state of the mixing of one batch, produced by CutMix.MixBatch and consumed by the
// loss computation of the same batch. It implements train.LossProvider.
type Mix struct {
	// Lambda is the effective fraction of each example that was kept, in [0, 1].
	Lambda float64

	// Index pairs each example i with example Index[i]. It is a permutation of the examples.
	Index []int

	// Boxes holds the region spliced into each field.
	Boxes map[string]Box

	base losses.CriterionProvider
}

var _ train.LossProvider = (*Mix)(nil)

// Loss implements train.LossProvider. It returns
//
//	Lambda * criterion(predictions, targets) + (1-Lambda) * criterion(predictions, targets[Index])
//
// scaled by the base multiplier, and records it in `batch.Metrics` under the base prefix.
//
// If Lambda is 1 it returns exactly the base criterion on the original targets.
func (m *Mix) Loss(batch *train.Batch) (float64, error) {
	if m.base == nil {
		return 0, errors.New("cutmix.Mix has no base loss provider")
	}
	predictions, err := batch.Output(m.base.OutputKey())
	if err != nil {
		return 0, err
	}
	targets, err := batch.Input(m.base.InputKey())
	if err != nil {
		return 0, err
	}
	criterion := m.base.Criterion()
	value, err := criterion(predictions, targets)
	if err != nil {
		return 0, errors.WithMessagef(err, "cutmix criterion on original targets")
	}
	if m.Lambda != 1 {
		if targets.Rank() == 0 || targets.Shape().Dimensions[0] != len(m.Index) {
			return 0, errors.Errorf("cutmix targets %q shaped %s don't match the %d mixed examples",
				m.base.InputKey(), targets.Shape(), len(m.Index))
		}
		pairedTargets, err := tensors.GatherRows(targets, m.Index)
		if err != nil {
			return 0, err
		}
		pairedValue, err := criterion(predictions, pairedTargets)
		if err != nil {
			return 0, errors.WithMessagef(err, "cutmix criterion on paired targets")
		}
		value = m.Lambda*value + (1-m.Lambda)*pairedValue
	}
	loss := value * m.base.Multiplier()
	batch.Metrics[m.base.Prefix()] = loss
	return loss, nil
}
