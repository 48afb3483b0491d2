// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cutmix

import "github.com/gomlx/cutmix/ml/params"

const (
	// ParamAlpha is the hyperparameter key for Config.Alpha (float64).
	ParamAlpha = "cutmix_alpha"

	// ParamFields is the hyperparameter key for Config.Fields ([]string).
	ParamFields = "cutmix_fields"

	// ParamOnTrainOnly is the hyperparameter key for Config.OnTrainOnly (bool).
	ParamOnTrainOnly = "cutmix_on_train_only"
)

// SetDefaultParams sets the CutMix hyperparameters in p to the values of DefaultConfig, so they
// can be listed and overwritten from the command line.
func SetDefaultParams(p *params.Params) {
	defaults := DefaultConfig()
	p.SetParams(map[string]any{
		ParamAlpha:       defaults.Alpha,
		ParamFields:      defaults.Fields,
		ParamOnTrainOnly: defaults.OnTrainOnly,
	})
}

// ConfigFromParams returns the Config given by the hyperparameters, using DefaultConfig for missing values.
// The returned Config is not validated: New does that.
func ConfigFromParams(p *params.Params) Config {
	defaults := DefaultConfig()
	return Config{
		Alpha:       params.GetParamOr(p, ParamAlpha, defaults.Alpha),
		Fields:      params.GetParamOr(p, ParamFields, defaults.Fields),
		OnTrainOnly: params.GetParamOr(p, ParamOnTrainOnly, defaults.OnTrainOnly),
	}
}
