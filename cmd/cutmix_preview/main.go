// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// cutmix_preview trains a linear classifier with CutMix augmentation, over a directory of images
// organized as one subdirectory per class (or a synthetic dataset if no directory is given), and
// writes a preview image with a batch before and after mixing.
//
// Example:
//
//	go run ./cmd/cutmix_preview -data ~/work/flowers -set "cutmix_alpha=0.5;epochs=5" -preview /tmp/cutmix.png
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/gomlx/cutmix/ml/augment/cutmix"
	"github.com/gomlx/cutmix/ml/data"
	"github.com/gomlx/cutmix/ml/params"
	"github.com/gomlx/cutmix/ml/train"
	"github.com/gomlx/cutmix/ml/train/losses"
	"github.com/gomlx/cutmix/ml/train/metrics"
	"github.com/gomlx/cutmix/types/tensors"
	"github.com/gomlx/cutmix/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	featuresKey = "features"
	targetsKey  = "targets"
	logitsKey   = "logits"
)

var (
	flagDataDir  = flag.String("data", "", "Directory with one subdirectory of images per class. If empty, a synthetic dataset is used.")
	flagDownload = flag.String("download", "", "URL of a .tar.gz with the images directory, downloaded and extracted into the "+
		"parent of --data if --data doesn't exist yet.")
	flagChecksum = flag.String("checksum", "", "Optional sha256 checksum of the file given in --download.")
	flagPreview  = flag.String("preview", "cutmix_preview.png", "Path of the preview image to write. If empty no preview is written.")
	flagProgress = flag.Bool("progress", true, "Display a progress bar while training.")
	flagParallel = flag.Int("parallel", 0, "If > 0, number of goroutines prefetching training batches and "+
		"decoding images. With more than 1 the order of batches is not deterministic.")
)

// createDefaultParams returns the hyperparameters with their default values.
func createDefaultParams() *params.Params {
	p := params.New()
	p.SetParams(map[string]any{
		"seed":          uint64(42),
		"epochs":        10,
		"batch_size":    32,
		"image_size":    32,
		"learning_rate": 0.05,
		"valid_ratio":   0.1,

		// Synthetic dataset, used if --data is not given.
		"num_examples": 1024,
		"num_classes":  4,
	})
	cutmix.SetDefaultParams(p)
	return p
}

func main() {
	klog.InitFlags(nil)
	hyperParams := createDefaultParams()
	settings := commandline.CreateSettingsFlag(hyperParams, "set")
	flag.Parse()
	paramsSet := must.M1(commandline.ParseSettings(hyperParams, *settings))
	if len(paramsSet) > 0 {
		fmt.Printf("Hyperparameters set:\n%s\n", commandline.SprintModifiedSettings(hyperParams, paramsSet))
	}
	must.M(run(hyperParams))
}

func run(hyperParams *params.Params) error {
	seed := params.GetParamOr(hyperParams, "seed", uint64(42))
	dataRng := rand.New(rand.NewPCG(seed, 1))
	cutMixRng := rand.New(rand.NewPCG(seed, 2))

	trainDS, validDS, numClasses, err := createDatasets(hyperParams, dataRng)
	if err != nil {
		return err
	}
	trainDS.Shuffle(dataRng)
	var trainLoader train.Dataset = trainDS
	var parallelDS *data.ParallelDataset
	if *flagParallel > 0 {
		parallelDS = data.CustomParallel(trainDS).Parallelism(*flagParallel).Start()
		defer parallelDS.Close()
		trainLoader = parallelDS
	}

	// Loss and model.
	lossConfig := losses.DefaultConfig()
	lossConfig.InputKey, lossConfig.OutputKey = targetsKey, logitsKey
	baseLoss, err := losses.NewCriterionLoss(losses.SparseCategoricalCrossEntropyLogits, lossConfig)
	if err != nil {
		return err
	}
	featuresShape := trainDS.Field(featuresKey).Shape()
	model := newLinearModel(featuresShape.RowSize(), numClasses,
		params.GetParamOr(hyperParams, "learning_rate", 0.05))
	loop := train.NewLoop(model.Model, baseLoss)
	loop.OnBatchEnd("linearModel.update", 10, model.Update)

	// CutMix.
	cutMixConfig := cutmix.ConfigFromParams(hyperParams)
	cm, err := cutmix.New(cutMixConfig, baseLoss, cutMixRng)
	if err != nil {
		return err
	}
	cutmix.Attach(loop, cm)

	// Metrics and UI.
	metrics.AttachSparseCategoricalAccuracy(loop, "accuracy", targetsKey, logitsKey)
	tracker := metrics.AttachTracker(loop)
	tracker.SetPrettyPrint("accuracy", metrics.PercentagePrettyPrint)
	if *flagProgress {
		commandline.AttachProgressBar(loop, tracker)
	}

	klog.Infof("Training on %d examples (%s), validating on %d, %d classes, CutMix %+v",
		trainDS.NumExamples(), featuresShape, validDS.NumExamples(), numClasses, cutMixConfig)
	epochs := params.GetParamOr(hyperParams, "epochs", 10)
	if err = loop.RunEpochs([]train.Dataset{trainLoader, validDS}, epochs); err != nil {
		return err
	}
	if err = commandline.ReportMetrics(os.Stdout, tracker); err != nil {
		return err
	}

	if *flagPreview != "" {
		if parallelDS != nil {
			// Stop prefetching before reading trainDS directly.
			parallelDS.Close()
		}
		cm.SetPhase(train.TrainLoaderPrefix)
		if err = writePreview(*flagPreview, trainDS, cm); err != nil {
			return err
		}
		fmt.Printf("Preview written to %q\n", *flagPreview)
	}
	return nil
}

// createDatasets returns the train and validation datasets and the number of classes.
func createDatasets(hyperParams *params.Params, rng *rand.Rand) (trainDS, validDS *data.InMemory, numClasses int, err error) {
	batchSize := params.GetParamOr(hyperParams, "batch_size", 32)
	imageSize := params.GetParamOr(hyperParams, "image_size", 32)
	if *flagDataDir == "" {
		config := data.DefaultSyntheticConfig()
		config.NumClasses = params.GetParamOr(hyperParams, "num_classes", config.NumClasses)
		config.Height, config.Width = imageSize, imageSize
		config.BatchSize = batchSize
		numExamples := params.GetParamOr(hyperParams, "num_examples", config.NumExamples)
		validExamples := max(1, int(float64(numExamples)*params.GetParamOr(hyperParams, "valid_ratio", 0.1)))
		config.Name, config.NumExamples = "train", numExamples-validExamples
		if trainDS, err = data.NewSynthetic(config, rng); err != nil {
			return
		}
		config.Name, config.NumExamples = "valid", validExamples
		validDS, err = data.NewSynthetic(config, rng)
		return trainDS, validDS, config.NumClasses, err
	}

	dataDir := data.ReplaceTildeInDir(*flagDataDir)
	if *flagDownload != "" {
		baseDir := filepath.Dir(dataDir)
		err = data.DownloadAndUntarIfMissing(*flagDownload, baseDir, filepath.Base(dataDir)+".tar.gz", dataDir, *flagChecksum)
		if err != nil {
			return
		}
	}
	imageDir, err := data.LoadImageDir(dataDir, imageSize, *flagParallel)
	if err != nil {
		return
	}
	trainDS, validDS, err = splitDataset(imageDir, params.GetParamOr(hyperParams, "valid_ratio", 0.1), batchSize, rng)
	return trainDS, validDS, len(imageDir.ClassNames), err
}

// splitDataset randomly splits the images into a train and a validation dataset.
func splitDataset(imageDir *data.ImageDir, validRatio float64, batchSize int, rng *rand.Rand) (trainDS, validDS *data.InMemory, err error) {
	numExamples := imageDir.Features.Shape().Dimensions[0]
	numValid := int(float64(numExamples) * validRatio)
	if numValid < 1 || numValid >= numExamples {
		return nil, nil, errors.Errorf("can't split %d images with valid_ratio=%g", numExamples, validRatio)
	}
	order := rng.Perm(numExamples)
	split := func(name string, indices []int) (*data.InMemory, error) {
		fields := make(map[string]*tensors.Tensor, 2)
		for key, t := range map[string]*tensors.Tensor{featuresKey: imageDir.Features, targetsKey: imageDir.Labels} {
			if fields[key], err = tensors.GatherRows(t, indices); err != nil {
				return nil, err
			}
		}
		return data.NewInMemory(name, fields, batchSize)
	}
	if validDS, err = split("valid", order[:numValid]); err != nil {
		return
	}
	trainDS, err = split("train", order[numValid:])
	return
}
