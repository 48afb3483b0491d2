// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/gomlx/cutmix/ml/augment/cutmix"
	"github.com/gomlx/cutmix/ml/data"
	"github.com/gomlx/cutmix/types/tensors/images"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// maxPreviewImages is the maximum number of examples displayed in the preview.
	maxPreviewImages = 8

	// minPreviewCellSize is the minimum size in pixels of each image displayed: smaller images are scaled up.
	minPreviewCellSize = 96

	previewPadding = 4
)

// writePreview mixes the first batch of ds and writes to path an image with the original
// examples in the top row and the mixed ones in the bottom row.
//
// The dataset is reset before and after.
func writePreview(path string, ds *data.InMemory, cm *cutmix.CutMix) error {
	ds.Reset()
	defer ds.Reset()
	batch, err := ds.Yield()
	if err != nil {
		return errors.WithMessage(err, "reading batch for preview")
	}
	original := batch.Clone()
	mix, err := cm.MixBatch(batch)
	if err != nil {
		return err
	}
	if mix != nil {
		klog.Infof("Preview: lambda=%.3f, boxes=%v, pairs=%v", mix.Lambda, mix.Boxes, mix.Index)
	}
	var rows [2][]*image.NRGBA
	err = exceptions.TryCatch[error](func() {
		toImage := images.ToImage().ChannelsFirst().MaxValue(1.0)
		rows[0] = toImage.Batch(original.Inputs[featuresKey])
		rows[1] = toImage.Batch(batch.Inputs[featuresKey])
	})
	if err != nil {
		return errors.WithMessage(err, "converting features to images for preview")
	}
	grid := previewGrid(rows[:])
	if err = imaging.Save(grid, path); err != nil {
		return errors.Wrapf(err, "saving preview to %q", path)
	}
	return nil
}

// previewGrid lays out the rows of images in a grid, scaling them up if they are too small.
func previewGrid(rows [][]*image.NRGBA) *image.NRGBA {
	var numCols int
	var cellW, cellH int
	for _, row := range rows {
		numCols = max(numCols, min(len(row), maxPreviewImages))
		for _, img := range row {
			size := img.Bounds().Size()
			cellW, cellH = max(cellW, size.X), max(cellH, size.Y)
		}
	}
	scale := max(1, minPreviewCellSize/max(cellW, cellH, 1))
	cellW, cellH = cellW*scale, cellH*scale
	grid := imaging.New(numCols*(cellW+previewPadding)+previewPadding, len(rows)*(cellH+previewPadding)+previewPadding,
		color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	for rowIdx, row := range rows {
		for colIdx, img := range row[:min(len(row), maxPreviewImages)] {
			size := img.Bounds().Size()
			scaled := imaging.Resize(img, size.X*scale, size.Y*scale, imaging.NearestNeighbor)
			position := image.Pt(previewPadding+colIdx*(cellW+previewPadding), previewPadding+rowIdx*(cellH+previewPadding))
			grid = imaging.Paste(grid, scaled, position)
		}
	}
	return grid
}
