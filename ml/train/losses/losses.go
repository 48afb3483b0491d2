// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package losses have several standard criteria that implement the Criterion signature, and
// the CriterionLoss, a train.LossProvider that applies a Criterion to named batch tensors.
//
// All criteria return the mean loss over the batch.
package losses

import (
	"math"

	"github.com/gomlx/cutmix/types/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Criterion computes a scalar loss, the mean over the batch, from the predictions of a model and
// the targets (labels) of the batch.
type Criterion func(predictions, targets *tensors.Tensor) (float64, error)

// MeanSquaredError returns the mean squared error between targets and predictions.
//
// targets and predictions must have the same dimensions, dtypes can differ.
func MeanSquaredError(predictions, targets *tensors.Tensor) (float64, error) {
	diffs, err := differences(predictions, targets)
	if err != nil {
		return 0, errors.WithMessage(err, "MeanSquaredError")
	}
	return floats.Dot(diffs, diffs) / float64(len(diffs)), nil
}

// MeanAbsoluteError returns the mean absolute error between targets and predictions.
//
// targets and predictions must have the same dimensions, dtypes can differ.
func MeanAbsoluteError(predictions, targets *tensors.Tensor) (float64, error) {
	diffs, err := differences(predictions, targets)
	if err != nil {
		return 0, errors.WithMessage(err, "MeanAbsoluteError")
	}
	return floats.Norm(diffs, 1) / float64(len(diffs)), nil
}

// differences returns predictions - targets, flattened.
func differences(predictions, targets *tensors.Tensor) ([]float64, error) {
	if !predictions.Shape().EqualDimensions(targets.Shape()) {
		return nil, errors.Errorf("targets (%s) and predictions (%s) must have same dimensions",
			targets.Shape(), predictions.Shape())
	}
	predictionsValues, err := tensors.ToFloat64s(predictions)
	if err != nil {
		return nil, err
	}
	targetsValues, err := tensors.ToFloat64s(targets)
	if err != nil {
		return nil, err
	}
	if len(predictionsValues) == 0 {
		return nil, errors.New("empty predictions")
	}
	floats.Sub(predictionsValues, targetsValues)
	return predictionsValues, nil
}

// BinaryCrossEntropyLogits returns the mean cross-entropy loss between targets and `sigmoid(logits)`,
// for binary classification tasks. It uses the numerically stable formulation
// `max(x, 0) - x*z + log(1 + exp(-|x|))`.
//
// targets are expected to be 0 or 1 (or probabilities in between), and have the same size as logits.
func BinaryCrossEntropyLogits(logits, targets *tensors.Tensor) (float64, error) {
	if logits.Size() != targets.Size() {
		return 0, errors.Errorf("BinaryCrossEntropyLogits: targets (%s) and logits (%s) have incompatible shapes",
			targets.Shape(), logits.Shape())
	}
	logitsValues, err := tensors.ToFloat64s(logits)
	if err != nil {
		return 0, err
	}
	targetsValues, err := tensors.ToFloat64s(targets)
	if err != nil {
		return 0, err
	}
	if len(logitsValues) == 0 {
		return 0, errors.New("BinaryCrossEntropyLogits: empty logits")
	}
	var total float64
	for ii, x := range logitsValues {
		z := targetsValues[ii]
		total += max(x, 0) - x*z + math.Log1p(math.Exp(-math.Abs(x)))
	}
	return total / float64(len(logitsValues)), nil
}

// SparseCategoricalCrossEntropyLogits returns the mean cross-entropy loss of the logits, given the labels.
// The labels are provided in "sparse" format, that is, integer numbers from 0 to the number of classes - 1.
//
// logits must be shaped `[batch_size, num_classes]` and targets `[batch_size]` or `[batch_size, 1]`.
func SparseCategoricalCrossEntropyLogits(logits, targets *tensors.Tensor) (float64, error) {
	if logits.Rank() != 2 {
		return 0, errors.Errorf("SparseCategoricalCrossEntropyLogits requires logits shaped [batch_size, num_classes], got %s",
			logits.Shape())
	}
	batchSize, numClasses := logits.Shape().Dimensions[0], logits.Shape().Dimensions[1]
	if batchSize == 0 || numClasses == 0 {
		return 0, errors.Errorf("SparseCategoricalCrossEntropyLogits: empty logits shaped %s", logits.Shape())
	}
	if targets.Size() != batchSize || targets.Rank() == 0 || targets.Rank() > 2 {
		return 0, errors.Errorf("SparseCategoricalCrossEntropyLogits: targets (%s) incompatible with logits (%s), "+
			"they must be shaped [batch_size] or [batch_size, 1]", targets.Shape(), logits.Shape())
	}
	if !targets.DType().IsInt() {
		return 0, errors.Errorf("SparseCategoricalCrossEntropyLogits: targets dtype (%s) must be integer", targets.DType())
	}
	labels, err := tensors.ToInts(targets)
	if err != nil {
		return 0, err
	}
	logitsValues, err := tensors.ToFloat64s(logits)
	if err != nil {
		return 0, err
	}
	var total float64
	for example, label := range labels {
		if label < 0 || label >= numClasses {
			return 0, errors.Errorf("SparseCategoricalCrossEntropyLogits: label %d of example %d out of range [0, %d)",
				label, example, numClasses)
		}
		row := logitsValues[example*numClasses : (example+1)*numClasses]
		total += floats.LogSumExp(row) - row[label]
	}
	return total / float64(batchSize), nil
}

// CategoricalCrossEntropyLogits returns the mean cross-entropy loss of the logits, given the labels.
// The labels are provided in "dense" format, they should have the exact same dimensions as logits, and be set 1 for
// the true (labeled) category, and 0 for the others -- or any other distribution that sum to 1.
func CategoricalCrossEntropyLogits(logits, targets *tensors.Tensor) (float64, error) {
	if logits.Rank() < 1 || !logits.Shape().EqualDimensions(targets.Shape()) {
		return 0, errors.Errorf("CategoricalCrossEntropyLogits: targets (%s) and logits (%s) must have the same dimensions",
			targets.Shape(), logits.Shape())
	}
	numClasses := logits.Shape().Dim(-1)
	if logits.Size() == 0 {
		return 0, errors.Errorf("CategoricalCrossEntropyLogits: empty logits shaped %s", logits.Shape())
	}
	logitsValues, err := tensors.ToFloat64s(logits)
	if err != nil {
		return 0, err
	}
	targetsValues, err := tensors.ToFloat64s(targets)
	if err != nil {
		return 0, err
	}
	numExamples := len(logitsValues) / numClasses
	var total float64
	for example := range numExamples {
		row := logitsValues[example*numClasses : (example+1)*numClasses]
		labels := targetsValues[example*numClasses : (example+1)*numClasses]
		logSumExp := floats.LogSumExp(row)
		for class, p := range labels {
			if p != 0 {
				total -= p * (row[class] - logSumExp)
			}
		}
	}
	return total / float64(numExamples), nil
}
