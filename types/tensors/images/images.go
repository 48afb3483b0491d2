// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package images provides several functions to transform images back and
// forth from tensors.
//
// Both channels-last (`[height, width, channels]`) and channels-first (`[channels, height, width]`)
// layouts are supported. Batches add a leading batch axis.
package images

import (
	"image"
	"math"

	"github.com/gomlx/cutmix/types/shapes"
	"github.com/gomlx/cutmix/types/tensors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"
)

// ChannelsAxisConfig indicates if a tensor with an image has the channel axis
// coming last (last axis) or first (first axis after batch axis).
type ChannelsAxisConfig uint8

const (
	ChannelsLast ChannelsAxisConfig = iota
	ChannelsFirst
)

// String implements fmt.Stringer.
func (c ChannelsAxisConfig) String() string {
	switch c {
	case ChannelsLast:
		return "ChannelsLast"
	case ChannelsFirst:
		return "ChannelsFirst"
	}
	return "ChannelsAxisConfig(?)"
}

// GetChannelsAxis from a given image tensor and configuration. It assumes the
// leading axis is for the batch dimension. So it either returns 1 or
// `image.Rank()-1`.
func GetChannelsAxis(image shapes.HasShape, config ChannelsAxisConfig) int {
	switch config {
	case ChannelsFirst:
		return 1
	case ChannelsLast:
		return image.Shape().Rank() - 1
	default:
		klog.Errorf("GetChannelsAxis(image, %s): invalid ChannelsAxisConfig!?", config)
		return -1
	}
}

// ToTensorConfig holds the configuration returned by the ToTensor function. Once
// configured, use Single or Batch to actually convert.
type ToTensorConfig struct {
	channels int
	maxValue float64
	dtype    dtypes.DType
	layout   ChannelsAxisConfig
}

// ToTensor converts an image (or batch) to a tensors.Tensor.
//
// It returns a configuration object that can be further configured. Once set, use Single or Batch
// methods to convert an image or a batch of images.
func ToTensor(dtype dtypes.DType) *ToTensorConfig {
	tt := &ToTensorConfig{
		channels: 3,
		maxValue: 1.0,
		dtype:    dtype,
		layout:   ChannelsLast,
	}
	if !dtype.IsFloat() {
		// Use 255 for integer types.
		tt.maxValue = 255.0
	}
	return tt
}

// WithAlpha configures ToTensorConfig object to include the alpha channel in the conversion,
// so the converted tensor will have 4 channels. The default is dropping the alpha channel.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) WithAlpha() *ToTensorConfig {
	tt.channels = 4
	return tt
}

// ChannelsFirst configures the conversion to output `[channels, height, width]` images,
// the layout expected by the CutMix augmentation.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) ChannelsFirst() *ToTensorConfig {
	tt.layout = ChannelsFirst
	return tt
}

// MaxValue sets the MaxValue of each channel. It defaults to 1.0 for float dtypes
// and 255 for integer types.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) MaxValue(v float64) *ToTensorConfig {
	tt.maxValue = v
	return tt
}

// Single converts the given img to a tensor, using the ToTensorConfig.
//
// It returns a 3D tensor, shaped as `[height, width, channels]` or `[channels, height, width]`.
//
// It panics in case of error.
func (tt *ToTensorConfig) Single(img image.Image) *tensors.Tensor {
	return tt.convert([]image.Image{img}, false)
}

// Batch converts the given images to a tensor, using the ToTensorConfig.
//
// It returns a 4D tensor, shaped as `[batch_size, height, width, channels]` or
// `[batch_size, channels, height, width]`.
//
// It panics in case of error.
func (tt *ToTensorConfig) Batch(images []image.Image) *tensors.Tensor {
	return tt.convert(images, true)
}

func (tt *ToTensorConfig) convert(images []image.Image, batch bool) *tensors.Tensor {
	if len(images) == 0 {
		exceptions.Panicf("images.ToTensor requires at least one image")
	}
	imgSize := images[0].Bounds().Size()
	height, width, channels := imgSize.Y, imgSize.X, tt.channels
	imageSize := height * width * channels
	values := make([]float64, len(images)*imageSize)
	for imgIdx, img := range images {
		if !img.Bounds().Size().Eq(imgSize) {
			exceptions.Panicf(
				"image[%d] has size %s, but image[0] has size %s -- they must all be the same",
				imgIdx, img.Bounds().Size(), imgSize)
		}
		minPoint := img.Bounds().Min
		imgValues := values[imgIdx*imageSize : (imgIdx+1)*imageSize]
		for y := range height {
			for x := range width {
				r, g, b, a := img.At(minPoint.X+x, minPoint.Y+y).RGBA()
				rgba := [4]uint32{r, g, b, a}
				for c := range channels {
					// color.RGBA() returns 16 bits values packaged in uint32.
					v := float64(rgba[c]) * tt.maxValue / float64(0xFFFF)
					if !tt.dtype.IsFloat() {
						v = math.Round(v)
					}
					var pos int
					if tt.layout == ChannelsFirst {
						pos = (c*height+y)*width + x
					} else {
						pos = (y*width+x)*channels + c
					}
					imgValues[pos] = v
				}
			}
		}
	}
	var dims []int
	if tt.layout == ChannelsFirst {
		dims = []int{channels, height, width}
	} else {
		dims = []int{height, width, channels}
	}
	if batch {
		dims = append([]int{len(images)}, dims...)
	} else if len(images) > 1 {
		exceptions.Panicf("images.ToTensor in non-batch mode, but %d images given", len(images))
	}
	t, err := tensors.FromFloat64s(tt.dtype, values, dims...)
	if err != nil {
		panic(err)
	}
	return t
}

// ToImageConfig holds the configuration returned by the ToImage function. Once
// configured, use Single or Batch to actually convert a tensor to image(s).
type ToImageConfig struct {
	maxValue float64
	layout   ChannelsAxisConfig
}

// ToImage returns a configuration that can be used to convert tensors to Images.
// Use Single or Batch to convert single images or batch of images at once.
//
// For now, it only supports `*image.NRGBA` image type.
func ToImage() *ToImageConfig {
	return &ToImageConfig{layout: ChannelsLast}
}

// MaxValue sets the MaxValue of each channel. It defaults to 1.0 for float dtypes
// and 255 for integer types.
//
// It returns the ToImageConfig object, so configuration calls can be cascaded.
func (ti *ToImageConfig) MaxValue(v float64) *ToImageConfig {
	ti.maxValue = v
	return ti
}

// ChannelsFirst configures the conversion to read `[channels, height, width]` tensors.
func (ti *ToImageConfig) ChannelsFirst() *ToImageConfig {
	ti.layout = ChannelsFirst
	return ti
}

// Single converts the given 3D tensor with an image to an `*image.NRGBA`.
//
// It panics in case of error.
func (ti *ToImageConfig) Single(t *tensors.Tensor) *image.NRGBA {
	if t.Rank() != 3 {
		exceptions.Panicf("images.ToImage().Single() requires a rank-3 tensor, got shape %s", t.Shape())
	}
	return ti.convert(t)[0]
}

// Batch converts the given 4D tensor to a collection of images.
//
// It panics in case of error.
func (ti *ToImageConfig) Batch(t *tensors.Tensor) []*image.NRGBA {
	if t.Rank() != 4 {
		exceptions.Panicf("images.ToImage().Batch() requires a rank-4 tensor, got shape %s", t.Shape())
	}
	return ti.convert(t)
}

func (ti *ToImageConfig) convert(imagesTensor *tensors.Tensor) []*image.NRGBA {
	dims := imagesTensor.Shape().Dimensions
	numImages := 1
	if len(dims) == 4 {
		numImages = dims[0]
		dims = dims[1:]
	}
	var height, width, channels int
	if ti.layout == ChannelsFirst {
		channels, height, width = dims[0], dims[1], dims[2]
	} else {
		height, width, channels = dims[0], dims[1], dims[2]
	}
	if channels != 3 && channels != 4 {
		exceptions.Panicf(
			"images.ToImage invalid tensor shape %s, with %d channels: only images with 3 or 4 channels are supported",
			imagesTensor.Shape(), channels)
	}
	maxValue := ti.maxValue
	if maxValue == 0 {
		if imagesTensor.DType().IsFloat() {
			maxValue = 1.0
		} else {
			maxValue = 255.0
		}
	}
	values, err := tensors.ToFloat64s(imagesTensor)
	if err != nil {
		panic(err)
	}
	imageSize := height * width * channels
	images := make([]*image.NRGBA, 0, numImages)
	for imgIdx := range numImages {
		imgValues := values[imgIdx*imageSize : (imgIdx+1)*imageSize]
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for y := range height {
			for x := range width {
				for c := range channels {
					var pos int
					if ti.layout == ChannelsFirst {
						pos = (c*height+y)*width + x
					} else {
						pos = (y*width+x)*channels + c
					}
					v := math.Round(255 * (imgValues[pos] / maxValue))
					img.Pix[y*img.Stride+x*4+c] = uint8(max(0, min(255, v)))
				}
				if channels < 4 {
					img.Pix[y*img.Stride+x*4+3] = 255 // Alpha channel.
				}
			}
		}
		images = append(images, img)
	}
	return images
}
