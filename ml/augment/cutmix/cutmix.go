// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cutmix implements the CutMix data augmentation as hooks of a train.Loop.
//
// At the start of each batch, samples are paired through a random permutation of the batch, and a
// rectangular region of each sample (for each of the configured fields) is replaced by the same
// region of its pair. The loss is then the mix of the base criterion evaluated against the original
// targets and against the paired targets, weighted by the area of the sample that was kept.
//
// See "CutMix: Regularization Strategy to Train Strong Classifiers with Localizable Features",
// https://arxiv.org/abs/1905.04899
//
// Example:
//
//	base := must.M1(losses.NewCriterionLoss(losses.SparseCategoricalCrossEntropyLogits, losses.DefaultConfig()))
//	loop := train.NewLoop(modelFn, base)
//	cm := must.M1(cutmix.New(cutmix.ConfigFromParams(hyperParams), base, rng))
//	cutmix.Attach(loop, cm)
package cutmix

import (
	"math"
	"math/rand/v2"
	"reflect"
	"slices"
	"strings"

	"github.com/gomlx/cutmix/ml/train"
	"github.com/gomlx/cutmix/ml/train/losses"
	"github.com/gomlx/cutmix/types/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"
	"k8s.io/klog/v2"
)

var (
	// ErrInvalidConfig is returned by New for invalid configurations.
	ErrInvalidConfig = errors.New("invalid CutMix configuration")

	// ErrUnsupportedRank is returned when mixing a field whose rank is not 3 or 4, or whose
	// spatial (last two) axes are empty.
	ErrUnsupportedRank = errors.New("CutMix only supports fields of rank 3 or 4, with non-empty spatial axes")
)

const (
	// HookName is the name of the hooks registered by Attach.
	HookName = "cutmix"

	// HookPriority of the hooks registered by Attach: mixing happens before other OnBatchStart hooks.
	HookPriority = train.Priority(-10)

	// LambdaMetric is the key in `Batch.Metrics` where the effective mixing ratio of the batch is recorded.
	LambdaMetric = "cutmix_lambda"
)

// Config of a CutMix augmentation.
type Config struct {
	// Fields are the keys in `Batch.Inputs` of the tensors to mix, in order. At least one is required.
	// Each field must be shaped `[batch_size, height, width]` or `[batch_size, channels, height, width]`.
	Fields []string

	// Alpha is the parameter of the symmetric Beta(alpha, alpha) distribution the mixing ratio is drawn from.
	// It must be >= 0, and alpha == 0 disables mixing (the ratio is always 1).
	Alpha float64

	// OnTrainOnly restricts mixing to training loaders (whose names start with "train").
	OnTrainOnly bool
}

// DefaultConfig returns the default configuration: mix the "features" field, with alpha=1 (uniform
// mixing ratio), on training loaders only.
func DefaultConfig() Config {
	return Config{
		Fields:      []string{"features"},
		Alpha:       1.0,
		OnTrainOnly: true,
	}
}

// Validate the configuration. Errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	if len(c.Fields) == 0 {
		return errors.Wrap(ErrInvalidConfig, "at least one field is required")
	}
	for ii, field := range c.Fields {
		if field == "" {
			return errors.Wrapf(ErrInvalidConfig, "fields[%d] is empty", ii)
		}
	}
	if math.IsNaN(c.Alpha) || c.Alpha < 0 {
		return errors.Wrapf(ErrInvalidConfig, "alpha must be >= 0, got %g", c.Alpha)
	}
	return nil
}

// CutMix holds the configuration and the random number generator of the augmentation, and whether it is
// active for the current loader.
//
// It is not safe for concurrent use: it is meant to be driven by the hooks of one train.Loop.
type CutMix struct {
	config Config
	base   losses.CriterionProvider
	rng    *rand.Rand
	beta   distuv.Beta
	active bool
}

// New creates a CutMix augmentation for the given configuration.
//
// base is the loss provider whose criterion is mixed. rng is the source of randomness for the mixing ratio, the
// pairing permutation and the box positions; if nil, a randomly seeded generator is used.
func New(config Config, base losses.CriterionProvider, rng *rand.Rand) (*CutMix, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if base == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "a base loss provider is required")
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	config.Fields = slices.Clone(config.Fields)
	cm := &CutMix{
		config: config,
		base:   base,
		rng:    rng,
		active: true,
	}
	cm.beta = distuv.Beta{Alpha: config.Alpha, Beta: config.Alpha, Src: rng}
	return cm, nil
}

// Config returns a copy of the configuration.
func (cm *CutMix) Config() Config {
	config := cm.config
	config.Fields = slices.Clone(config.Fields)
	return config
}

// IsActive returns whether mixing applies to a loader (phase) with the given name.
func IsActive(onTrainOnly bool, phase string) bool {
	return !onTrainOnly || strings.HasPrefix(phase, train.TrainLoaderPrefix)
}

// Active returns whether mixing is active for the current loader.
func (cm *CutMix) Active() bool { return cm.active }

// SetPhase re-evaluates whether mixing is active, for a loader (phase) with the given name.
func (cm *CutMix) SetPhase(phase string) {
	cm.active = IsActive(cm.config.OnTrainOnly, phase)
	klog.V(1).Infof("cutmix: loader %q, active=%v", phase, cm.active)
}

// OnLoaderStart implements train.OnLoaderStartFn.
func (cm *CutMix) OnLoaderStart(_ *train.Loop, ds train.Dataset) error {
	cm.SetPhase(ds.Name())
	return nil
}

// OnBatchStart implements train.OnBatchStartFn: it mixes the batch and, if active, sets the batch
// loss to the mixed loss and records the mixing ratio in `Batch.Metrics[LambdaMetric]`.
func (cm *CutMix) OnBatchStart(_ *train.Loop, batch *train.Batch) error {
	mix, err := cm.MixBatch(batch)
	if err != nil {
		return err
	}
	if mix == nil {
		return nil
	}
	batch.Loss = mix
	batch.Metrics[LambdaMetric] = mix.Lambda
	return nil
}

// Attach registers the CutMix hooks on the loop, under HookName with HookPriority.
func Attach(loop *train.Loop, cm *CutMix) {
	loop.OnLoaderStart(HookName, HookPriority, cm.OnLoaderStart)
	loop.OnBatchStart(HookName, HookPriority, cm.OnBatchStart)
}

// sampleLambda draws the mixing ratio, always a finite value in [0, 1].
func (cm *CutMix) sampleLambda() float64 {
	if cm.config.Alpha == 0 {
		return 1
	}
	lambda := cm.beta.Rand()
	if math.IsNaN(lambda) {
		// For small alpha both Gamma draws of distuv.Beta may underflow to 0, giving 0/0. Beta(alpha, alpha)
		// then concentrates its mass at the extremes, equally split between 0 and 1.
		if cm.rng.Float64() < 0.5 {
			return 0
		}
		return 1
	}
	return clampLambda(lambda)
}

// MixBatch mixes the configured fields of the batch in place and returns the Mix used, to be
// used for the loss of the same batch.
//
// If inactive, it returns nil and leaves the batch untouched. Fields are validated before any
// change, so on error the batch is also left untouched.
func (cm *CutMix) MixBatch(batch *train.Batch) (*Mix, error) {
	if !cm.active {
		return nil, nil
	}
	fields := make([]*tensors.Tensor, len(cm.config.Fields))
	numExamples := -1
	for ii, name := range cm.config.Fields {
		field, found := batch.Inputs[name]
		if !found || field == nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "batch has no field %q to mix", name)
		}
		if rank := field.Rank(); rank != 3 && rank != 4 {
			return nil, errors.Wrapf(ErrUnsupportedRank, "field %q has shape %s", name, field.Shape())
		}
		if dims := field.Shape().Dimensions; dims[len(dims)-2] == 0 || dims[len(dims)-1] == 0 {
			return nil, errors.Wrapf(ErrUnsupportedRank, "field %q has shape %s, with an empty spatial axis", name, field.Shape())
		}
		if ii == 0 {
			numExamples = field.Shape().Dimensions[0]
		} else if field.Shape().Dimensions[0] != numExamples {
			return nil, errors.Errorf("field %q has shape %s, but field %q has %d examples -- all fields must "+
				"have the same leading dimension", name, field.Shape(), cm.config.Fields[0], numExamples)
		}
		fields[ii] = field
	}

	mix := &Mix{
		Lambda: cm.sampleLambda(),
		Index:  cm.rng.Perm(numExamples),
		Boxes:  make(map[string]Box, len(fields)),
		base:   cm.base,
	}
	for ii, field := range fields {
		dims := field.Shape().Dimensions
		rank := len(dims)
		w, h := dims[rank-2], dims[rank-1]
		box := RandBox(cm.rng, w, h, mix.Lambda)
		pasteBox(field, mix.Index, box)
		mix.Boxes[cm.config.Fields[ii]] = box
		// The effective ratio of the last field is the one used for the loss.
		mix.Lambda = 1 - float64(box.Area())/float64(w*h)
	}
	if klog.V(2).Enabled() {
		klog.Infof("cutmix: lambda=%.4f, boxes=%v, index=%v", mix.Lambda, mix.Boxes, mix.Index)
	}
	return mix, nil
}

// pasteBox overwrites, for each example i of field, the region box with the same region of
// example index[i]. Source values are read from a snapshot taken before any change.
func pasteBox(field *tensors.Tensor, index []int, box Box) {
	if box.Empty() {
		return
	}
	dims := field.Shape().Dimensions
	rank := len(dims)
	w, h := dims[rank-2], dims[rank-1]
	planes := field.Shape().RowSize() / (w * h) // Number of channels, 1 for rank-3 fields.
	exampleSize := planes * w * h
	snapshot := field.LocalClone()
	snapshot.ConstFlatData(func(srcFlat any) {
		field.MutableFlatData(func(dstFlat any) {
			srcV, dstV := reflect.ValueOf(srcFlat), reflect.ValueOf(dstFlat)
			for toExample, fromExample := range index {
				for plane := range planes {
					for x := box.X1; x < box.X2; x++ {
						toStart := toExample*exampleSize + (plane*w+x)*h
						fromStart := fromExample*exampleSize + (plane*w+x)*h
						reflect.Copy(
							dstV.Slice(toStart+box.Y1, toStart+box.Y2),
							srcV.Slice(fromStart+box.Y1, fromStart+box.Y2))
					}
				}
			}
		})
	})
}
