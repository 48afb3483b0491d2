// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math"

	"github.com/gomlx/cutmix/ml/augment/cutmix"
	"github.com/gomlx/cutmix/ml/train"
	"github.com/gomlx/cutmix/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// linearModel is a linear softmax classifier over the flattened features, trained with plain SGD.
type linearModel struct {
	numFeatures, numClasses int
	learningRate            float64
	weights                 *mat.Dense // [numClasses, numFeatures]
	bias                    []float64

	// Values of the last batch, used by Update.
	inputs, logits *mat.Dense
}

func newLinearModel(numFeatures, numClasses int, learningRate float64) *linearModel {
	return &linearModel{
		numFeatures:  numFeatures,
		numClasses:   numClasses,
		learningRate: learningRate,
		weights:      mat.NewDense(numClasses, numFeatures, nil),
		bias:         make([]float64, numClasses),
	}
}

// Model implements train.ModelFn: it sets the "logits" output, shaped `[batch_size, num_classes]`.
func (m *linearModel) Model(_ *train.Loop, batch *train.Batch) error {
	features, err := batch.Input(featuresKey)
	if err != nil {
		return err
	}
	if features.Shape().RowSize() != m.numFeatures {
		return errors.Errorf("linearModel expects %d features per example, got features shaped %s",
			m.numFeatures, features.Shape())
	}
	values, err := tensors.ToFloat64s(features)
	if err != nil {
		return err
	}
	batchSize := features.Shape().Dimensions[0]
	m.inputs = mat.NewDense(batchSize, m.numFeatures, values)
	m.logits = mat.NewDense(batchSize, m.numClasses, nil)
	m.logits.Mul(m.inputs, m.weights.T())
	for example := range batchSize {
		floats.Add(m.logits.RawRowView(example), m.bias)
	}
	logits, err := tensors.FromFloat64s(dtypes.Float32, m.logits.RawMatrix().Data, batchSize, m.numClasses)
	if err != nil {
		return err
	}
	batch.Outputs[logitsKey] = logits
	return nil
}

// Update implements train.OnBatchEndFn: on training loaders it takes one SGD step on the
// cross-entropy of the last batch. If the batch was mixed, the targets are the mixed soft labels.
func (m *linearModel) Update(loop *train.Loop, batch *train.Batch, _ float64) error {
	if !loop.IsTraining() {
		return nil
	}
	targetsT, err := batch.Input(targetsKey)
	if err != nil {
		return err
	}
	targets, err := tensors.ToInts(targetsT)
	if err != nil {
		return err
	}
	batchSize := len(targets)
	softTargets := mat.NewDense(batchSize, m.numClasses, nil)
	lambda, index := 1.0, []int(nil)
	if mix, ok := batch.Loss.(*cutmix.Mix); ok {
		lambda, index = mix.Lambda, mix.Index
	}
	for example, target := range targets {
		softTargets.Set(example, target, softTargets.At(example, target)+lambda)
		if lambda != 1 {
			paired := targets[index[example]]
			softTargets.Set(example, paired, softTargets.At(example, paired)+1-lambda)
		}
	}

	// Gradient of the mean cross-entropy with respect to the logits: (softmax(logits) - targets) / batchSize.
	grad := mat.NewDense(batchSize, m.numClasses, nil)
	for example := range batchSize {
		row := grad.RawRowView(example)
		copy(row, m.logits.RawRowView(example))
		floats.AddConst(-floats.LogSumExp(row), row)
		for ii := range row {
			row[ii] = math.Exp(row[ii])
		}
		floats.Sub(row, softTargets.RawRowView(example))
		floats.Scale(1/float64(batchSize), row)
	}

	var weightsGrad mat.Dense
	weightsGrad.Mul(grad.T(), m.inputs)
	m.weights.Apply(func(i, j int, v float64) float64 {
		return v - m.learningRate*weightsGrad.At(i, j)
	}, m.weights)
	for class := range m.numClasses {
		m.bias[class] -= m.learningRate * floats.Sum(mat.Col(nil, class, grad))
	}
	return nil
}
