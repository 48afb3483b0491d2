// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/cutmix/types/shapes"
	"github.com/gomlx/cutmix/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// SyntheticConfig configures a synthetic image classification dataset, see NewSynthetic.
type SyntheticConfig struct {
	Name        string
	NumExamples int
	NumClasses  int
	Channels    int
	Height      int
	Width       int
	BatchSize   int

	// Noise is the standard deviation of the gaussian noise added to each pixel.
	Noise float64
}

// DefaultSyntheticConfig returns a small dataset of 3-channel 32x32 images of 4 classes.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Name:        "train",
		NumExamples: 256,
		NumClasses:  4,
		Channels:    3,
		Height:      32,
		Width:       32,
		BatchSize:   32,
		Noise:       0.05,
	}
}

// NewSynthetic creates an InMemory dataset with "features" shaped `[num_examples, channels, height, width]`
// (float32 in [0, 1]) and "targets" shaped `[num_examples]` (int32 class).
//
// Each class is drawn as a sinusoidal stripe pattern: even classes have horizontal stripes, odd classes
// vertical ones, with frequency growing with the class, and a per-class color. Images of the same class
// differ by a random phase and the noise.
func NewSynthetic(config SyntheticConfig, rng *rand.Rand) (*InMemory, error) {
	if config.NumExamples <= 0 || config.NumClasses <= 0 || config.Channels <= 0 ||
		config.Height <= 0 || config.Width <= 0 {
		return nil, errors.Errorf("invalid synthetic dataset configuration %+v", config)
	}
	features := tensors.FromShape(shapes.Make(dtypes.Float32,
		config.NumExamples, config.Channels, config.Height, config.Width))
	labels := make([]int32, config.NumExamples)
	planeSize := config.Height * config.Width
	tensors.MutableFlatData(features, func(flat []float32) {
		for example := range config.NumExamples {
			class := rng.IntN(config.NumClasses)
			labels[example] = int32(class)
			frequency := float64(class/2 + 1)
			phase := rng.Float64() * 2 * math.Pi
			for channel := range config.Channels {
				color := 0.5 + 0.5*math.Cos(float64(class+channel))
				base := (example*config.Channels + channel) * planeSize
				for y := range config.Height {
					for x := range config.Width {
						coord := float64(y) / float64(config.Height)
						if class%2 == 1 {
							coord = float64(x) / float64(config.Width)
						}
						value := color * (0.5 + 0.5*math.Sin(2*math.Pi*frequency*coord+phase))
						value += rng.NormFloat64() * config.Noise
						flat[base+y*config.Width+x] = float32(min(1, max(0, value)))
					}
				}
			}
		}
	})
	return NewInMemory(config.Name, map[string]*tensors.Tensor{
		"features": features,
		"targets":  tensors.FromFlatDataAndDimensions(labels, config.NumExamples),
	}, config.BatchSize)
}
