// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/gomlx/cutmix/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ParallelDataset prefetches batches of a thread-safe train.Dataset using goroutines.
//
// With more than one goroutine the order of the batches is not deterministic.
// See details in CustomParallel.
type ParallelDataset struct {
	Dataset train.Dataset

	// parallelism is the number of goroutines started generating batches.
	parallelism int

	// bufferSize is the size of the cache of pre-generated batches.
	bufferSize int

	started, closed bool

	mu        sync.Mutex
	err       error
	cache     chan *train.Batch
	stopEpoch chan struct{}
	stopOnce  *sync.Once
	epochDone chan struct{}
}

var _ train.Dataset = (*ParallelDataset)(nil)

// Parallel parallelizes any thread-safe train.Dataset.
//
// It uses CustomParallel and automatically starts it with the default parameters.
//
// To avoid leaking goroutines, call ParallelDataset.Close when done.
//
// Example:
//
//	ds := data.Parallel(must.M1(data.NewInMemory("train", fields, 32)))
//	defer ds.Close()
//	err := loop.RunEpochs([]train.Dataset{ds}, 10)
func Parallel(ds train.Dataset) *ParallelDataset {
	pd := CustomParallel(ds)
	return pd.Buffer(pd.parallelism).Start()
}

// CustomParallel builds a ParallelDataset that can be used to parallelize any
// train.Dataset, as long as the underlying dataset ds is thread-safe.
//
// ParallelDataset can be further configured (see Parallelism and Buffer),
// and then one has to call Start before actually using the Dataset.
//
// Example:
//
//	ds = data.CustomParallel(ds).Parallelism(1).Buffer(10).Start()
func CustomParallel(ds train.Dataset) *ParallelDataset {
	pd := &ParallelDataset{Dataset: ds}
	pd.Parallelism(0)
	return pd
}

// Parallelism is the number of goroutines to start, each calling `ds.Yield()` in parallel
// to accelerate the generation of batches. If set to 0 (the default), it uses the
// number of cores in the system plus 1.
//
// This must be called before Start. It returns the updated ParallelDataset, so calls can be cascaded.
func (pd *ParallelDataset) Parallelism(n int) *ParallelDataset {
	if pd.started {
		klog.Errorf("ParallelDataset invalid configuration change after Start has been called.")
		return pd
	}
	if n <= 0 {
		n = runtime.NumCPU() + 1
	}
	pd.parallelism = n
	return pd
}

// Buffer reserved in the channel that collects the parallel yields.
//
// This must be called before Start. It returns the updated ParallelDataset, so calls can be cascaded.
func (pd *ParallelDataset) Buffer(n int) *ParallelDataset {
	if pd.started {
		klog.Errorf("ParallelDataset invalid configuration change after Start has been called.")
		return pd
	}
	pd.bufferSize = max(n, 0)
	return pd
}

// Start indicates that the dataset is finished to be configured, and starts the goroutines.
// After Start its configuration can no longer be changed.
//
// It returns the updated ParallelDataset, so calls can be cascaded.
func (pd *ParallelDataset) Start() *ParallelDataset {
	if pd.started {
		klog.Errorf("ParallelDataset.Start called more than once!?")
		return pd
	}
	pd.started = true
	pd.cache = make(chan *train.Batch, pd.bufferSize)
	pd.startEpoch()
	return pd
}

// startEpoch starts the goroutines generating the batches of one epoch.
func (pd *ParallelDataset) startEpoch() {
	stopEpoch := make(chan struct{})
	epochDone := make(chan struct{})
	stopOnce := &sync.Once{}
	pd.mu.Lock()
	pd.err = nil
	pd.stopEpoch, pd.epochDone, pd.stopOnce = stopEpoch, epochDone, stopOnce
	pd.mu.Unlock()

	var wg sync.WaitGroup
	for range pd.parallelism {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stopEpoch:
					return
				default:
				}
				batch, err := pd.Dataset.Yield()
				if err == io.EOF {
					return
				}
				if err != nil {
					// Fatal error: only the first is kept, and the epoch is stopped.
					pd.mu.Lock()
					if pd.err == nil {
						pd.err = err
					}
					pd.mu.Unlock()
					stopOnce.Do(func() { close(stopEpoch) })
					return
				}
				select {
				case <-stopEpoch:
					return
				case pd.cache <- batch:
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(epochDone)
	}()
}

// stopAndDrain stops the current epoch, waits for all its goroutines to finish, and discards the cached batches.
func (pd *ParallelDataset) stopAndDrain() {
	pd.mu.Lock()
	stopEpoch, epochDone, stopOnce := pd.stopEpoch, pd.epochDone, pd.stopOnce
	pd.mu.Unlock()
	stopOnce.Do(func() { close(stopEpoch) })
	for {
		select {
		case <-pd.cache:
		case <-epochDone:
			for {
				select {
				case <-pd.cache:
				default:
					return
				}
			}
		}
	}
}

// Name implements train.Dataset. It keeps the wrapped dataset name as a prefix, so training loaders
// are still recognized as such.
func (pd *ParallelDataset) Name() string {
	return fmt.Sprintf("%s [Parallel]", pd.Dataset.Name())
}

// Reset implements train.Dataset.
func (pd *ParallelDataset) Reset() {
	if !pd.started || pd.closed {
		klog.Errorf("ParallelDataset.Reset called on a dataset not started or already closed")
		return
	}
	pd.stopAndDrain()
	pd.Dataset.Reset()
	pd.startEpoch()
}

// Close stops the goroutines. The dataset can't be used afterwards.
func (pd *ParallelDataset) Close() {
	if !pd.started || pd.closed {
		return
	}
	pd.closed = true
	pd.stopAndDrain()
}

// Yield implements train.Dataset.
func (pd *ParallelDataset) Yield() (*train.Batch, error) {
	if !pd.started {
		return nil, errors.Errorf("ParallelDataset.Yield was called before it was started with ParallelDataset.Start")
	}
	if pd.closed {
		return nil, errors.Errorf("ParallelDataset.Yield was called after Close")
	}
	pd.mu.Lock()
	epochDone := pd.epochDone
	pd.mu.Unlock()
	select {
	case batch := <-pd.cache:
		return batch, nil
	case <-epochDone:
		// No more batches being produced until Reset is called, but the cache still needs to be exhausted.
		select {
		case batch := <-pd.cache:
			return batch, nil
		default:
		}
		pd.mu.Lock()
		defer pd.mu.Unlock()
		if pd.err != nil {
			return nil, pd.err
		}
		return nil, io.EOF
	}
}
