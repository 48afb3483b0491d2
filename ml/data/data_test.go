// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"image/color"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/cutmix/ml/train"
	"github.com/gomlx/cutmix/types/tensors"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rangeDataset returns an InMemory with numExamples examples: "x" holds the example number.
func rangeDataset(t *testing.T, numExamples, batchSize int) *InMemory {
	values := make([]int32, numExamples)
	for ii := range values {
		values[ii] = int32(ii)
	}
	ds, err := NewInMemory("train", map[string]*tensors.Tensor{
		"x": tensors.FromFlatDataAndDimensions(values, numExamples, 1),
	}, batchSize)
	require.NoError(t, err)
	return ds
}

// collect all the values of "x" yielded until io.EOF, and the batch sizes.
func collect(t *testing.T, ds train.Dataset) (values []int32, sizes []int) {
	for {
		batch, err := ds.Yield()
		if err == io.EOF {
			return
		}
		require.NoError(t, err)
		x := must.M1(batch.Input("x"))
		sizes = append(sizes, batch.Size())
		values = append(values, tensors.CopyFlatData[int32](x)...)
	}
}

func TestInMemory(t *testing.T) {
	ds := rangeDataset(t, 10, 4)
	assert.Equal(t, 10, ds.NumExamples())
	assert.Equal(t, 4, ds.BatchSize())
	values, sizes := collect(t, ds)
	assert.Equal(t, []int{4, 4, 2}, sizes)
	assert.Equal(t, []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, values)

	// Exhausted until Reset.
	_, err := ds.Yield()
	require.Equal(t, io.EOF, err)
	ds.Reset()
	values, _ = collect(t, ds)
	assert.Len(t, values, 10)

	ds.DropIncompleteBatch().Reset()
	_, sizes = collect(t, ds)
	assert.Equal(t, []int{4, 4}, sizes)
}

func TestInMemoryShuffle(t *testing.T) {
	ds := rangeDataset(t, 20, 3).Shuffle(rand.New(rand.NewPCG(1, 2)))
	values, _ := collect(t, ds)
	assert.NotEqual(t, []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19}, values)
	slices.Sort(values)
	assert.Equal(t, []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19}, values)
}

func TestInMemoryInfinite(t *testing.T) {
	ds := rangeDataset(t, 5, 2).Infinite(true)
	counts := make(map[int32]int)
	for range 10 {
		batch := must.M1(ds.Yield())
		for _, v := range tensors.CopyFlatData[int32](batch.Inputs["x"]) {
			counts[v]++
		}
	}
	// 10 batches: 4 full passes of [2, 2, 1].
	assert.Len(t, counts, 5)

	ds = rangeDataset(t, 3, 4).Infinite(true).DropIncompleteBatch()
	_, err := ds.Yield()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestInMemoryBatchesAreCopies(t *testing.T) {
	ds := rangeDataset(t, 4, 4)
	batch := must.M1(ds.Yield())
	tensors.MutableFlatData(batch.Inputs["x"], func(flat []int32) {
		for ii := range flat {
			flat[ii] = -1
		}
	})
	ds.Reset()
	values, _ := collect(t, ds)
	assert.Equal(t, []int32{0, 1, 2, 3}, values)
}

func TestNewInMemoryErrors(t *testing.T) {
	_, err := NewInMemory("x", nil, 1)
	require.Error(t, err)
	_, err = NewInMemory("x", map[string]*tensors.Tensor{"x": tensors.FromFlatDataAndDimensions([]float32{1}, 1)}, 0)
	require.Error(t, err)
	_, err = NewInMemory("x", map[string]*tensors.Tensor{"x": tensors.FromScalar(float32(1))}, 1)
	require.Error(t, err)
	_, err = NewInMemory("x", map[string]*tensors.Tensor{
		"a": tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2),
		"b": tensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 3),
	}, 1)
	require.ErrorContains(t, err, "examples")
}

func TestParallel(t *testing.T) {
	for _, parallelism := range []int{1, 3} {
		ds := rangeDataset(t, 100, 7)
		pds := CustomParallel(ds).Parallelism(parallelism).Buffer(5).Start()
		assert.True(t, train.IsTrainLoader(pds.Name()))
		for epoch := range 2 {
			values, _ := collect(t, pds)
			slices.Sort(values)
			require.Lenf(t, values, 100, "parallelism=%d, epoch=%d", parallelism, epoch)
			for ii, v := range values {
				require.Equal(t, int32(ii), v)
			}
			pds.Reset()
		}
		pds.Close()
		_, err := pds.Yield()
		require.Error(t, err)
	}
}

// failingDataset yields a few batches and then fails.
type failingDataset struct {
	*InMemory
	count int
}

func (ds *failingDataset) Yield() (*train.Batch, error) {
	ds.count++
	if ds.count > 3 {
		return nil, errors.New("disk on fire")
	}
	return ds.InMemory.Yield()
}

func TestParallelError(t *testing.T) {
	pds := CustomParallel(&failingDataset{InMemory: rangeDataset(t, 100, 1)}).Parallelism(1).Buffer(0).Start()
	defer pds.Close()
	var err error
	for range 10 {
		if _, err = pds.Yield(); err != nil {
			break
		}
	}
	require.ErrorContains(t, err, "disk on fire")
}

func TestSynthetic(t *testing.T) {
	config := DefaultSyntheticConfig()
	config.NumExamples = 20
	config.Height, config.Width = 8, 6
	config.BatchSize = 5
	ds := must.M1(NewSynthetic(config, rand.New(rand.NewPCG(3, 4))))
	assert.Equal(t, "train", ds.Name())
	assert.Equal(t, []int{20, 3, 8, 6}, ds.Field("features").Shape().Dimensions)
	for _, label := range tensors.CopyFlatData[int32](ds.Field("targets")) {
		assert.True(t, label >= 0 && label < int32(config.NumClasses))
	}
	for _, v := range tensors.CopyFlatData[float32](ds.Field("features")) {
		require.True(t, v >= 0 && v <= 1)
	}
	batch := must.M1(ds.Yield())
	assert.Equal(t, 5, batch.Size())

	config.NumClasses = 0
	_, err := NewSynthetic(config, rand.New(rand.NewPCG(3, 4)))
	require.Error(t, err)
}

func TestLoadImageDir(t *testing.T) {
	dir := t.TempDir()
	for className, c := range map[string]color.NRGBA{
		"cats": {R: 255, A: 255},
		"dogs": {B: 255, A: 255},
	} {
		classDir := filepath.Join(dir, className)
		require.NoError(t, os.MkdirAll(classDir, 0777))
		for ii, size := range []image.Point{{X: 10, Y: 20}, {X: 16, Y: 16}} {
			img := imaging.New(size.X, size.Y, c)
			require.NoError(t, imaging.Save(img, filepath.Join(classDir, []string{"a.png", "b.jpg"}[ii])))
		}
		require.NoError(t, os.WriteFile(filepath.Join(classDir, "README.txt"), []byte("not an image"), 0666))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0777))

	loaded, err := LoadImageDir(dir, 8, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"cats", "dogs"}, loaded.ClassNames)
	assert.Len(t, loaded.Paths, 4)
	assert.Equal(t, []int{4, 3, 8, 8}, loaded.Features.Shape().Dimensions)
	assert.Equal(t, []int32{0, 0, 1, 1}, tensors.CopyFlatData[int32](loaded.Labels))

	// Red cats and blue dogs.
	features := tensors.CopyFlatData[float32](loaded.Features)
	planeSize := 8 * 8
	assert.InDelta(t, 1.0, features[0], 0.05)                 // Cat, red channel.
	assert.InDelta(t, 0.0, features[2*planeSize], 0.05)       // Cat, blue channel.
	assert.InDelta(t, 1.0, features[(2*3+2)*planeSize], 0.05) // Dog, blue channel.

	ds := must.M1(loaded.Dataset("train", "features", "targets", 2))
	assert.Equal(t, 4, ds.NumExamples())

	_, err = LoadImageDir(filepath.Join(dir, "empty"), 8, 0)
	require.Error(t, err)
	_, err = LoadImageDir(filepath.Join(dir, "missing"), 8, 0)
	require.Error(t, err)
}

func TestUntar(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	content := []byte("hello")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "images/", Typeflag: tar.TypeDir, Mode: 0755}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "images/a.txt", Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(content))}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	tarPath := filepath.Join(dir, "images.tar.gz")
	require.NoError(t, os.WriteFile(tarPath, buf.Bytes(), 0666))

	require.NoError(t, Untar(dir, tarPath))
	got, err := os.ReadFile(filepath.Join(dir, "images", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Already there: no download attempted.
	require.NoError(t, DownloadAndUntarIfMissing("http://invalid.invalid/images.tar.gz", dir, "images.tar.gz", "images", ""))

	// Entries escaping the base directory are rejected.
	buf.Reset()
	tw = tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../evil.txt", Typeflag: tar.TypeReg, Mode: 0644, Size: 0}))
	require.NoError(t, tw.Close())
	evilPath := filepath.Join(dir, "evil.tar")
	require.NoError(t, os.WriteFile(evilPath, buf.Bytes(), 0666))
	require.Error(t, Untar(filepath.Join(dir, "images"), evilPath))
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	exists, err := FileExists(path)
	require.NoError(t, err)
	assert.False(t, exists)

	content := []byte("cutmix")
	require.NoError(t, os.WriteFile(path, content, 0666))
	exists = must.M1(FileExists(path))
	assert.True(t, exists)

	sum := sha256.Sum256(content)
	require.NoError(t, ValidateChecksum(path, hex.EncodeToString(sum[:])))
	require.NoError(t, DownloadIfMissing("http://invalid.invalid/file.bin", path, hex.EncodeToString(sum[:])))
	require.Error(t, ValidateChecksum(path, "00"))
	assert.False(t, must.M1(FileExists(path)), "file failing checksum should be removed")

	assert.Equal(t, "/some/dir", ReplaceTildeInDir("/some/dir"))
	assert.NotEqual(t, "~/x", ReplaceTildeInDir("~/x"))
}
