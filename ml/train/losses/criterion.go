// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package losses

import (
	"github.com/gomlx/cutmix/ml/train"
	"github.com/pkg/errors"
)

// Config of a CriterionLoss: which batch tensors the criterion is applied to, and how the
// result is scaled and reported.
type Config struct {
	// InputKey is the key in `Batch.Inputs` with the targets. Defaults to "targets".
	InputKey string

	// OutputKey is the key in `Batch.Outputs` with the model predictions. Defaults to "logits".
	OutputKey string

	// Prefix is the key in `Batch.Metrics` where the loss is reported. Defaults to "loss".
	Prefix string

	// Multiplier scales the criterion value. Defaults to 1.0.
	Multiplier float64
}

// DefaultConfig returns the default CriterionLoss configuration.
func DefaultConfig() Config {
	return Config{
		InputKey:   "targets",
		OutputKey:  "logits",
		Prefix:     "loss",
		Multiplier: 1.0,
	}
}

// CriterionProvider is a loss provider that exposes its criterion and configuration, so it
// can be wrapped by other loss providers that need to apply the same criterion to other targets.
type CriterionProvider interface {
	train.LossProvider

	Criterion() Criterion
	InputKey() string
	OutputKey() string
	Prefix() string
	Multiplier() float64
}

// CriterionLoss applies a Criterion to `Batch.Outputs[OutputKey]` (predictions) and
// `Batch.Inputs[InputKey]` (targets), and reports the result in `Batch.Metrics[Prefix]`.
type CriterionLoss struct {
	criterion Criterion
	config    Config
}

var _ CriterionProvider = (*CriterionLoss)(nil)

// NewCriterionLoss creates a CriterionLoss. Empty fields of config take their default values, except
// Multiplier, which must be set explicitly (use DefaultConfig as a starting point).
func NewCriterionLoss(criterion Criterion, config Config) (*CriterionLoss, error) {
	if criterion == nil {
		return nil, errors.New("NewCriterionLoss requires a criterion")
	}
	defaults := DefaultConfig()
	if config.InputKey == "" {
		config.InputKey = defaults.InputKey
	}
	if config.OutputKey == "" {
		config.OutputKey = defaults.OutputKey
	}
	if config.Prefix == "" {
		config.Prefix = defaults.Prefix
	}
	return &CriterionLoss{criterion: criterion, config: config}, nil
}

// Criterion implements CriterionProvider.
func (l *CriterionLoss) Criterion() Criterion { return l.criterion }

// InputKey implements CriterionProvider.
func (l *CriterionLoss) InputKey() string { return l.config.InputKey }

// OutputKey implements CriterionProvider.
func (l *CriterionLoss) OutputKey() string { return l.config.OutputKey }

// Prefix implements CriterionProvider.
func (l *CriterionLoss) Prefix() string { return l.config.Prefix }

// Multiplier implements CriterionProvider.
func (l *CriterionLoss) Multiplier() float64 { return l.config.Multiplier }

// Loss implements train.LossProvider.
func (l *CriterionLoss) Loss(batch *train.Batch) (float64, error) {
	predictions, err := batch.Output(l.config.OutputKey)
	if err != nil {
		return 0, err
	}
	targets, err := batch.Input(l.config.InputKey)
	if err != nil {
		return 0, err
	}
	value, err := l.criterion(predictions, targets)
	if err != nil {
		return 0, errors.WithMessagef(err, "criterion for %q", l.config.Prefix)
	}
	loss := value * l.config.Multiplier
	batch.Metrics[l.config.Prefix] = loss
	return loss, nil
}
