// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/cutmix/ml/augment/cutmix"
	"github.com/gomlx/cutmix/ml/data"
	"github.com/gomlx/cutmix/ml/params"
	"github.com/gomlx/cutmix/ml/train"
	"github.com/gomlx/cutmix/ml/train/losses"
	"github.com/gomlx/cutmix/ml/train/metrics"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticDatasets(t *testing.T) (trainDS, validDS *data.InMemory) {
	config := data.DefaultSyntheticConfig()
	config.NumClasses = 2
	config.Height, config.Width = 8, 8
	config.NumExamples = 128
	config.BatchSize = 16
	rng := rand.New(rand.NewPCG(1, 2))
	trainDS = must.M1(data.NewSynthetic(config, rng))
	config.Name, config.NumExamples = "valid", 64
	validDS = must.M1(data.NewSynthetic(config, rng))
	return
}

func newTestLoop(t *testing.T, trainDS *data.InMemory, withCutMix bool) (*train.Loop, *metrics.Tracker, *cutmix.CutMix) {
	lossConfig := losses.DefaultConfig()
	lossConfig.InputKey, lossConfig.OutputKey = targetsKey, logitsKey
	baseLoss := must.M1(losses.NewCriterionLoss(losses.SparseCategoricalCrossEntropyLogits, lossConfig))
	model := newLinearModel(trainDS.Field(featuresKey).Shape().RowSize(), 2, 0.1)
	loop := train.NewLoop(model.Model, baseLoss)
	loop.OnBatchEnd("linearModel.update", 10, model.Update)
	var cm *cutmix.CutMix
	if withCutMix {
		cm = must.M1(cutmix.New(cutmix.DefaultConfig(), baseLoss, rand.New(rand.NewPCG(3, 4))))
		cutmix.Attach(loop, cm)
	}
	metrics.AttachSparseCategoricalAccuracy(loop, "accuracy", targetsKey, logitsKey)
	return loop, metrics.AttachTracker(loop), cm
}

func TestTraining(t *testing.T) {
	for _, withCutMix := range []bool{false, true} {
		trainDS, validDS := syntheticDatasets(t)
		loop, tracker, _ := newTestLoop(t, trainDS, withCutMix)
		require.NoError(t, loop.RunEpochs([]train.Dataset{trainDS, validDS}, 10))
		accuracy, found := tracker.Value("valid", "accuracy")
		require.True(t, found)
		// Classes have distinct colors: the linear model separates them well.
		assert.Greaterf(t, accuracy, 0.75, "withCutMix=%v", withCutMix)
		_, found = tracker.Value("train", cutmix.LambdaMetric)
		assert.Equal(t, withCutMix, found)
		_, found = tracker.Value("valid", cutmix.LambdaMetric)
		assert.False(t, found)
	}
}

func TestWritePreview(t *testing.T) {
	trainDS, _ := syntheticDatasets(t)
	_, _, cm := newTestLoop(t, trainDS, true)
	path := filepath.Join(t.TempDir(), "preview.png")
	require.NoError(t, writePreview(path, trainDS, cm))
	img, err := imaging.Open(path)
	require.NoError(t, err)
	// 8 columns and 2 rows of 8x8 images scaled 12 times, with padding.
	assert.Equal(t, 8*(96+previewPadding)+previewPadding, img.Bounds().Dx())
	assert.Equal(t, 2*(96+previewPadding)+previewPadding, img.Bounds().Dy())
}

func TestCreateDefaultParams(t *testing.T) {
	p := createDefaultParams()
	assert.Equal(t, cutmix.DefaultConfig(), cutmix.ConfigFromParams(p))
	assert.Equal(t, 10, params.GetParamOr(p, "epochs", 0))
}
