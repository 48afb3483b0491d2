// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/cutmix/internal/workerspool"
	"github.com/gomlx/cutmix/types/tensors"
	"github.com/gomlx/cutmix/types/tensors/images"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ImageExtensions are the file extensions (lower case) recognized as images by LoadImageDir.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff"}

// ImageDir holds the images loaded by LoadImageDir.
type ImageDir struct {
	// Features shaped `[num_images, 3, size, size]`, with values in [0, 1].
	Features *tensors.Tensor

	// Labels shaped `[num_images]` (int32), the index of the class of each image in ClassNames.
	Labels *tensors.Tensor

	// ClassNames are the names of the subdirectories of the loaded directory, sorted.
	ClassNames []string

	// Paths of the loaded images, in the same order as Features.
	Paths []string
}

// LoadImageDir loads all images under dir, organized as one subdirectory per class
// (`dir/<class_name>/<image_file>`). Images are resized and center-cropped to `size x size`, and
// converted to tensors with the channels first.
//
// Files without a recognized image extension (see ImageExtensions) are ignored. Images are decoded
// by up to parallelism goroutines: if parallelism <= 0, it uses the number of cores.
func LoadImageDir(dir string, size, parallelism int) (*ImageDir, error) {
	if size <= 0 {
		return nil, errors.Errorf("LoadImageDir(%q): size must be > 0, got %d", dir, size)
	}
	dir = ReplaceTildeInDir(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "LoadImageDir(%q)", dir)
	}
	result := &ImageDir{}
	var labels []int32
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		classDir := filepath.Join(dir, entry.Name())
		files, err := os.ReadDir(classDir)
		if err != nil {
			return nil, errors.Wrapf(err, "LoadImageDir(%q)", dir)
		}
		label := int32(len(result.ClassNames))
		var count int
		for _, file := range files {
			if file.IsDir() || !slices.Contains(ImageExtensions, strings.ToLower(filepath.Ext(file.Name()))) {
				continue
			}
			labels = append(labels, label)
			result.Paths = append(result.Paths, filepath.Join(classDir, file.Name()))
			count++
		}
		if count == 0 {
			klog.Warningf("LoadImageDir(%q): class directory %q has no images, skipping", dir, entry.Name())
			continue
		}
		klog.V(1).Infof("LoadImageDir(%q): class %q has %d images", dir, entry.Name(), count)
		result.ClassNames = append(result.ClassNames, entry.Name())
	}
	if len(result.Paths) == 0 {
		return nil, errors.Errorf("LoadImageDir(%q): no images found in class subdirectories", dir)
	}

	// Decoding and resizing are independent per image: results are written to their own slot,
	// so the order is deterministic.
	imgs := make([]image.Image, len(result.Paths))
	err = workerspool.New(parallelism).ForEach(len(imgs), func(ii int) error {
		img, err := imaging.Open(result.Paths[ii])
		if err != nil {
			return errors.Wrapf(err, "LoadImageDir(%q): failed to load image", dir)
		}
		imgs[ii] = imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = exceptions.TryCatch[error](func() {
		result.Features = images.ToTensor(dtypes.Float32).ChannelsFirst().Batch(imgs)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "LoadImageDir(%q)", dir)
	}
	result.Labels = tensors.FromFlatDataAndDimensions(labels, len(labels))
	return result, nil
}

// Dataset returns an InMemory dataset with the loaded images, with the given field names for the features
// and labels.
func (d *ImageDir) Dataset(name, featuresKey, labelsKey string, batchSize int) (*InMemory, error) {
	return NewInMemory(name, map[string]*tensors.Tensor{
		featuresKey: d.Features,
		labelsKey:   d.Labels,
	}, batchSize)
}
