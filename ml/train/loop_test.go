// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/gomlx/cutmix/types/tensors"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDataset yields numBatches batches with a "features" input of shape [2, 1] holding the batch number.
type testDataset struct {
	name              string
	numBatches, count int
	resets            int
}

func (ds *testDataset) Name() string { return ds.name }

func (ds *testDataset) Yield() (*Batch, error) {
	if ds.count >= ds.numBatches {
		return nil, io.EOF
	}
	v := float32(ds.count)
	ds.count++
	return NewBatch(map[string]*tensors.Tensor{
		"features": tensors.FromFlatDataAndDimensions([]float32{v, v}, 2, 1),
	}), nil
}

func (ds *testDataset) Reset() {
	ds.count = 0
	ds.resets++
}

// sumModel sets output "sum" to the sum of the features.
func sumModel(_ *Loop, batch *Batch) error {
	features, err := batch.Input("features")
	if err != nil {
		return err
	}
	var sum float32
	tensors.ConstFlatData(features, func(flat []float32) {
		for _, v := range flat {
			sum += v
		}
	})
	batch.Outputs["sum"] = tensors.FromScalar(sum)
	return nil
}

var sumLoss = LossProviderFn(func(batch *Batch) (float64, error) {
	out, err := batch.Output("sum")
	if err != nil {
		return 0, err
	}
	loss := float64(tensors.ToScalar[float32](out))
	batch.Metrics["loss"] = loss
	return loss, nil
})

func TestRunEpochs(t *testing.T) {
	train := &testDataset{name: "train", numBatches: 3}
	valid := &testDataset{name: "valid", numBatches: 2}
	loop := NewLoop(sumModel, sumLoss)

	var events []string
	loop.OnStart("start", 0, func(loop *Loop) error {
		events = append(events, "start")
		return nil
	})
	loop.OnLoaderStart("loader", 0, func(loop *Loop, ds Dataset) error {
		events = append(events, fmt.Sprintf("loader:%s:%d", ds.Name(), loop.Epoch))
		return nil
	})
	var losses []float64
	loop.OnBatchEnd("losses", 0, func(loop *Loop, batch *Batch, loss float64) error {
		losses = append(losses, loss)
		require.Equal(t, loss, batch.Metrics["loss"])
		return nil
	})
	loop.OnLoaderEnd("loaderEnd", 0, func(loop *Loop, ds Dataset) error {
		events = append(events, fmt.Sprintf("end:%s:%d", loop.LoaderName, loop.LoaderStep))
		return nil
	})
	loop.OnEnd("end", 0, func(loop *Loop) error {
		events = append(events, "end")
		return nil
	})

	require.NoError(t, loop.RunEpochs([]Dataset{train, valid}, 2))
	require.Equal(t, []string{
		"start",
		"loader:train:0", "end:train:3", "loader:valid:0", "end:valid:2",
		"loader:train:1", "end:train:3", "loader:valid:1", "end:valid:2",
		"end",
	}, events)
	require.Equal(t, []float64{0, 2, 4, 0, 2, 0, 2, 4, 0, 2}, losses)
	assert.Equal(t, 10, loop.LoopStep)
	assert.Equal(t, 10, loop.EndStep)
	assert.Equal(t, 2, train.resets)
	assert.Equal(t, 2, valid.resets)
	assert.Len(t, loop.BatchDurations, 10)
	assert.Greater(t, loop.MedianBatchDuration().Nanoseconds(), int64(0))
}

func TestRunSteps(t *testing.T) {
	ds := &testDataset{name: "train", numBatches: 5}
	loop := NewLoop(sumModel, sumLoss)
	require.NoError(t, loop.RunSteps(ds, 3))
	require.Equal(t, 3, loop.LoopStep)
	require.Equal(t, 3, loop.LoaderStep)
	require.True(t, loop.IsTraining())

	// Continues where it stopped, and fails when the dataset ends early.
	err := loop.RunSteps(ds, 3)
	require.Error(t, err)
	require.Contains(t, err.Error(), "reached Dataset end after 2 steps")

	require.NoError(t, loop.RunSteps(ds, 0))
}

func TestHookPriorityAndErrors(t *testing.T) {
	ds := &testDataset{name: "valid", numBatches: 2}
	loop := NewLoop(sumModel, sumLoss)
	var order []string
	for _, p := range []Priority{10, -10, 0} {
		loop.OnBatchStart(fmt.Sprintf("p%d", p), p, func(loop *Loop, batch *Batch) error {
			order = append(order, fmt.Sprintf("p%d", p))
			require.NotNil(t, batch.Loss)
			return nil
		})
	}
	require.NoError(t, loop.RunSteps(ds, 1))
	require.Equal(t, []string{"p-10", "p0", "p10"}, order)
	require.False(t, loop.IsTraining())

	// Error from a hook is wrapped with the hook name.
	loop.OnBatchStart("failing", 1, func(loop *Loop, batch *Batch) error {
		return errors.New("boom")
	})
	err := loop.RunSteps(ds, 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), `OnBatchStart(hook "failing")`)
	require.Contains(t, err.Error(), "boom")

	// Panics are converted to errors.
	loop = NewLoop(func(loop *Loop, batch *Batch) error {
		exceptions.Panicf("model exploded")
		return nil
	}, sumLoss)
	err = loop.RunEpochs([]Dataset{&testDataset{name: "train", numBatches: 1}}, 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "model exploded")
}

func TestLossChecks(t *testing.T) {
	ds := &testDataset{name: "train", numBatches: 1}
	nanLoss := LossProviderFn(func(batch *Batch) (float64, error) { return 0 / zero(), nil })
	err := NewLoop(sumModel, nanLoss).RunEpochs([]Dataset{ds}, 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "NaN")

	ds.Reset()
	err = NewLoop(sumModel, nil).RunEpochs([]Dataset{ds}, 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no loss provider")

	// A batch-start hook can replace the loss for one batch only.
	ds = &testDataset{name: "train", numBatches: 2}
	loop := NewLoop(sumModel, sumLoss)
	loop.OnBatchStart("replace", 0, func(loop *Loop, batch *Batch) error {
		if loop.LoaderStep == 0 {
			batch.Loss = LossProviderFn(func(*Batch) (float64, error) { return 100, nil })
		}
		return nil
	})
	var losses []float64
	loop.OnBatchEnd("collect", 0, func(loop *Loop, batch *Batch, loss float64) error {
		losses = append(losses, loss)
		return nil
	})
	require.NoError(t, loop.RunEpochs([]Dataset{ds}, 1))
	require.Equal(t, []float64{100, 2}, losses)
}

func zero() float64 { return 0 }

func TestBatch(t *testing.T) {
	batch := NewBatch(map[string]*tensors.Tensor{
		"b_targets":  tensors.FromFlatDataAndDimensions([]int32{1, 2, 3}, 3),
		"a_features": tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 3, 2),
	})
	require.Equal(t, 3, batch.Size())
	require.Equal(t, 0, NewBatch(nil).Size())

	_, err := batch.Input("missing")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "a_features"))
	_, err = batch.Output("logits")
	require.Error(t, err)

	clone := batch.Clone()
	tensors.MutableFlatData(clone.Inputs["a_features"], func(flat []float32) { flat[0] = 100 })
	require.Equal(t, float32(1), tensors.CopyFlatData[float32](batch.Inputs["a_features"])[0])
}

func TestCallbacks(t *testing.T) {
	ds := &testDataset{name: "train", numBatches: 10}
	loop := NewLoop(sumModel, sumLoss)
	var everyN []int
	EveryNSteps(loop, 3, "every3", 0, func(loop *Loop, batch *Batch, loss float64) error {
		everyN = append(everyN, loop.LoopStep)
		return nil
	})
	var nTimes []int
	NTimesDuringLoop(loop, 2, "twice", 0, func(loop *Loop, batch *Batch, loss float64) error {
		nTimes = append(nTimes, loop.LoopStep)
		return nil
	})
	periodicCalls := 0
	PeriodicCallback(loop, 0, "always", 0, func(loop *Loop, batch *Batch, loss float64) error {
		periodicCalls++
		return nil
	})
	require.NoError(t, loop.RunSteps(ds, 10))
	require.Equal(t, []int{2, 5, 8}, everyN)
	require.Equal(t, []int{0, 4, 9}, nTimes)
	// The first call only starts the clock.
	require.Equal(t, 9, periodicCalls)

	require.Panics(t, func() { EveryNSteps(loop, 0, "bad", 0, nil) })
}
