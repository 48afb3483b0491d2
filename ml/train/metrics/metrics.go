// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics holds streaming metrics over the scalar values reported in `train.Batch.Metrics`,
// and a Tracker that aggregates them per loader.
package metrics

import (
	"fmt"

	"github.com/gomlx/cutmix/ml/train"
	"github.com/gomlx/cutmix/types/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Interface for a streaming metric: it is updated with one value per batch, weighted by the batch size.
type Interface interface {
	// Name of the metric.
	Name() string

	// Update the metric with the value of one batch, with the given weight (usually the batch size).
	Update(value, weight float64)

	// Value returns the current value of the metric. It is 0 before the first update.
	Value() float64

	// Reset the metric to its initial state.
	Reset()

	// PrettyPrint returns a human-readable representation of a value of this metric.
	PrettyPrint(value float64) string
}

// PrettyPrintFn formats a metric value.
type PrettyPrintFn func(value float64) string

// DefaultPrettyPrint formats values with 3 significant digits.
func DefaultPrettyPrint(value float64) string {
	return fmt.Sprintf("%.3g", value)
}

// PercentagePrettyPrint formats values in [0, 1] as a percentage.
func PercentagePrettyPrint(value float64) string {
	return fmt.Sprintf("%.2f%%", 100*value)
}

type baseMetric struct {
	name     string
	pPrintFn PrettyPrintFn
}

func (m *baseMetric) Name() string { return m.name }

func (m *baseMetric) PrettyPrint(value float64) string {
	if m.pPrintFn == nil {
		return DefaultPrettyPrint(value)
	}
	return m.pPrintFn(value)
}

// Mean keeps the weighted mean of the values.
type Mean struct {
	baseMetric
	total, weight float64
}

var _ Interface = (*Mean)(nil)

// NewMean creates a mean metric. pPrintFn can be left as nil, and a default will be used.
func NewMean(name string, pPrintFn PrettyPrintFn) *Mean {
	return &Mean{baseMetric: baseMetric{name: name, pPrintFn: pPrintFn}}
}

// Update implements Interface.
func (m *Mean) Update(value, weight float64) {
	m.total += value * weight
	m.weight += weight
}

// Value implements Interface.
func (m *Mean) Value() float64 {
	if m.weight == 0 {
		return 0
	}
	return m.total / m.weight
}

// Reset implements Interface.
func (m *Mean) Reset() { m.total, m.weight = 0, 0 }

// MovingAverage keeps an exponential moving average of the values.
//
// Each new batch has weight of newExampleWeight, and the stored average decays by (1-newExampleWeight).
// It behaves like a plain mean until there are enough terms.
type MovingAverage struct {
	baseMetric
	newExampleWeight float64
	mean             float64
	count            float64
}

var _ Interface = (*MovingAverage)(nil)

// NewExponentialMovingAverage creates a moving average metric. A typical value of newExampleWeight is 0.01,
// the smaller the value, the slower the moving average moves.
func NewExponentialMovingAverage(name string, pPrintFn PrettyPrintFn, newExampleWeight float64) *MovingAverage {
	return &MovingAverage{baseMetric: baseMetric{name: name, pPrintFn: pPrintFn}, newExampleWeight: newExampleWeight}
}

// Update implements Interface. The weight is ignored.
func (m *MovingAverage) Update(value, _ float64) {
	m.count++
	weight := max(m.newExampleWeight, 1/m.count)
	m.mean = m.mean*(1-weight) + value*weight
}

// Value implements Interface.
func (m *MovingAverage) Value() float64 { return m.mean }

// Reset implements Interface.
func (m *MovingAverage) Reset() { m.mean, m.count = 0, 0 }

// SparseCategoricalAccuracy returns the fraction of examples whose argmax of the logits (shaped `[batch_size, num_classes]`)
// matches the integer labels (shaped `[batch_size]` or `[batch_size, 1]`).
func SparseCategoricalAccuracy(logits, labels *tensors.Tensor) (float64, error) {
	if logits.Rank() != 2 {
		return 0, errors.Errorf("SparseCategoricalAccuracy requires logits of rank 2, got shape %s", logits.Shape())
	}
	batchSize, numClasses := logits.Shape().Dimensions[0], logits.Shape().Dimensions[1]
	if labels.Size() != batchSize {
		return 0, errors.Errorf("SparseCategoricalAccuracy labels shape %s incompatible with logits shape %s",
			labels.Shape(), logits.Shape())
	}
	logitsValues, err := tensors.ToFloat64s(logits)
	if err != nil {
		return 0, err
	}
	labelsValues, err := tensors.ToInts(labels)
	if err != nil {
		return 0, errors.WithMessage(err, "SparseCategoricalAccuracy labels")
	}
	correct := 0
	for example, label := range labelsValues {
		if floats.MaxIdx(logitsValues[example*numClasses:(example+1)*numClasses]) == label {
			correct++
		}
	}
	return float64(correct) / float64(batchSize), nil
}

// AttachSparseCategoricalAccuracy registers an OnBatchEnd hook that stores the batch accuracy of
// `batch.Outputs[outputKey]` (logits) against `batch.Inputs[inputKey]` (labels) in `batch.Metrics[name]`.
//
// It uses priority -1, so it runs before a Tracker attached with the default priority.
func AttachSparseCategoricalAccuracy(loop *train.Loop, name, inputKey, outputKey string) {
	loop.OnBatchEnd("metrics.SparseCategoricalAccuracy: "+name, -1,
		func(loop *train.Loop, batch *train.Batch, _ float64) error {
			labels, err := batch.Input(inputKey)
			if err != nil {
				return err
			}
			logits, err := batch.Output(outputKey)
			if err != nil {
				return err
			}
			accuracy, err := SparseCategoricalAccuracy(logits, labels)
			if err != nil {
				return err
			}
			batch.Metrics[name] = accuracy
			return nil
		})
}
