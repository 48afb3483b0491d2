// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package train holds a host training Loop: it iterates over one or more Datasets (loaders),
// runs a model function on each Batch and computes its loss, calling the registered hooks
// along the way.
//
// In itself the Loop doesn't do much: functionality like data augmentation, progress bars
// or metrics reporting is attached to it as hooks.
package train

import (
	"io"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/gomlx/cutmix/types/tensors"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative
// values are ok.
type Priority int

// OnStartFn is the type of OnStart hooks.
type OnStartFn func(loop *Loop) error

// OnLoaderStartFn is the type of OnLoaderStart hooks.
type OnLoaderStartFn func(loop *Loop, ds Dataset) error

// OnBatchStartFn is the type of OnBatchStart hooks. They may mutate the batch in place.
type OnBatchStartFn func(loop *Loop, batch *Batch) error

// OnBatchEndFn is the type of OnBatchEnd hooks, called with the batch loss.
type OnBatchEndFn func(loop *Loop, batch *Batch, loss float64) error

// OnLoaderEndFn is the type of OnLoaderEnd hooks.
type OnLoaderEndFn func(loop *Loop, ds Dataset) error

// OnEndFn is the type of OnEnd hooks.
type OnEndFn func(loop *Loop) error

// Loop runs the model over a sequence of loaders, for a number of epochs or steps,
// and calls the appropriate hooks.
//
// The public attributes are meant for reading only, don't change them -- behavior
// can be undefined.
type Loop struct {
	// Model run on every batch.
	Model ModelFn

	// BaseLoss is the LossProvider set to every Batch before the OnBatchStart hooks.
	BaseLoss LossProvider

	// LoaderName is the name of the Dataset currently being iterated.
	LoaderName string

	// Epoch is set when running Loop.RunEpochs() to the current running epoch, starting from 0.
	Epoch int

	// LoopStep currently being executed, counting the batches of all loaders. Defaults to 0.
	LoopStep int

	// LoaderStep is the batch currently being executed within the current loader, starting from 0.
	LoaderStep int

	// StartStep is the value of LoopStep at the start of a run (RunSteps or RunEpochs). At the first
	// run it wil be 0 (the default value for LoopStep) and if Loop.RunSteps (or Loop.RunEpochs) is called
	// multiple times, StartStep is reset to the last LoopStep value of the previous run.
	StartStep int

	// EndStep is one-past the last step to be executed. If -1 the end step is not known (if
	// running till the end of the dataset). When running for multiple epochs (Loop.RunEpochs) it
	// is extrapolated after the first epoch, based on how many steps have been run so far.
	EndStep int

	// SharedData allows for cross-tools to publish and consume information. Keys (strings)
	// and semantics/type of their values are not specified by loop.
	SharedData map[string]any

	// BatchDurations collected during the run.
	BatchDurations []time.Duration

	// Registered hooks.
	onStart       *priorityHooks[*hookWithName[OnStartFn]]
	onLoaderStart *priorityHooks[*hookWithName[OnLoaderStartFn]]
	onBatchStart  *priorityHooks[*hookWithName[OnBatchStartFn]]
	onBatchEnd    *priorityHooks[*hookWithName[OnBatchEndFn]]
	onLoaderEnd   *priorityHooks[*hookWithName[OnLoaderEndFn]]
	onEnd         *priorityHooks[*hookWithName[OnEndFn]]
}

// NewLoop creates a new training loop for the given model and base loss.
func NewLoop(model ModelFn, loss LossProvider) *Loop {
	return &Loop{
		Model:         model,
		BaseLoss:      loss,
		EndStep:       -1,
		SharedData:    make(map[string]any),
		onStart:       newPriorityHooks[*hookWithName[OnStartFn]](),
		onLoaderStart: newPriorityHooks[*hookWithName[OnLoaderStartFn]](),
		onBatchStart:  newPriorityHooks[*hookWithName[OnBatchStartFn]](),
		onBatchEnd:    newPriorityHooks[*hookWithName[OnBatchEndFn]](),
		onLoaderEnd:   newPriorityHooks[*hookWithName[OnLoaderEndFn]](),
		onEnd:         newPriorityHooks[*hookWithName[OnEndFn]](),
	}
}

// IsTraining returns whether the current loader is a training loader.
func (loop *Loop) IsTraining() bool {
	return IsTrainLoader(loop.LoaderName)
}

// runHooks calls call on each hook in priority order, stopping at the first error, which is
// wrapped with the hook kind and name.
func runHooks[F any](hooks *priorityHooks[*hookWithName[F]], kind string, call func(fn F) error) (err error) {
	hooks.Enumerate(func(hook *hookWithName[F]) {
		if err != nil {
			// After the first error stop.
			return
		}
		err = call(hook.fn)
		if err != nil {
			err = errors.WithMessagef(err, "%s(hook %q)", kind, hook.name)
		}
	})
	return
}

// start of loop, called by all looping methods.
func (loop *Loop) start() error {
	return runHooks(loop.onStart, "OnStart", func(fn OnStartFn) error { return fn(loop) })
}

func (loop *Loop) loaderStart(ds Dataset) error {
	loop.LoaderName = ds.Name()
	loop.LoaderStep = 0
	klog.V(1).Infof("loader %q started (epoch %d, step %d)", loop.LoaderName, loop.Epoch, loop.LoopStep)
	return runHooks(loop.onLoaderStart, "OnLoaderStart", func(fn OnLoaderStartFn) error { return fn(loop, ds) })
}

func (loop *Loop) loaderEnd(ds Dataset) error {
	klog.V(1).Infof("loader %q finished after %d batches", loop.LoaderName, loop.LoaderStep)
	return runHooks(loop.onLoaderEnd, "OnLoaderEnd", func(fn OnLoaderEndFn) error { return fn(loop, ds) })
}

func (loop *Loop) end() error {
	return runHooks(loop.onEnd, "OnEnd", func(fn OnEndFn) error { return fn(loop) })
}

// step runs one batch: batch-start hooks, model, loss and batch-end hooks.
//
// Panics raised with exceptions.Panicf (or runtime errors) inside hooks or the model are
// converted to errors.
func (loop *Loop) step(batch *Batch) (loss float64, err error) {
	startTime := time.Now()
	defer func() {
		loop.BatchDurations = append(loop.BatchDurations, time.Since(startTime))
	}()
	if batch == nil {
		return 0, errors.New("dataset yielded a nil batch")
	}
	if batch.Metrics == nil {
		batch.Metrics = make(map[string]float64)
	}
	if batch.Outputs == nil {
		batch.Outputs = make(map[string]*tensors.Tensor)
	}
	batch.Loss = loop.BaseLoss
	exception := exceptions.TryCatch[error](func() {
		loss, err = loop.stepImpl(batch)
	})
	if exception != nil {
		return 0, exception
	}
	return
}

func (loop *Loop) stepImpl(batch *Batch) (loss float64, err error) {
	err = runHooks(loop.onBatchStart, "OnBatchStart", func(fn OnBatchStartFn) error { return fn(loop, batch) })
	if err != nil {
		return
	}
	if loop.Model != nil {
		if err = loop.Model(loop, batch); err != nil {
			return 0, errors.WithMessagef(err, "model failed")
		}
	}
	if batch.Loss == nil {
		return 0, errors.New("no loss provider set for batch")
	}
	loss, err = batch.Loss.Loss(batch)
	if err != nil {
		return 0, errors.WithMessagef(err, "failed computing loss")
	}
	if math.IsNaN(loss) {
		return 0, errors.Errorf("batch loss is NaN, training interrupted")
	}
	if math.IsInf(loss, 0) {
		return 0, errors.Errorf("batch loss is infinity (%f), training interrupted", loss)
	}
	err = runHooks(loop.onBatchEnd, "OnBatchEnd", func(fn OnBatchEndFn) error { return fn(loop, batch, loss) })
	return
}

// RunSteps runs those many steps over a single loader. StartStep and EndStep are adjusted to the current
// LoopStep, so it can be called multiple times, and it will simply pick up
// where it left of last time.
//
// It fails if the dataset ends before the requested number of steps.
func (loop *Loop) RunSteps(ds Dataset, steps int) (err error) {
	if steps == 0 {
		return nil
	}
	loop.StartStep = loop.LoopStep
	loop.EndStep = loop.LoopStep + steps
	loop.BatchDurations = make([]time.Duration, 0, steps)
	if err = loop.start(); err != nil {
		return err
	}
	if err = loop.loaderStart(ds); err != nil {
		return errors.WithMessagef(err, "Loop.RunSteps(%d)", steps)
	}
	for ; loop.LoopStep < loop.EndStep; loop.LoopStep++ {
		batch, err := ds.Yield()
		if err != nil {
			if err == io.EOF {
				return errors.Errorf(
					"reached Dataset end after %d steps (requested %d steps) -- did you mean to use "+
						"a different (looping) Dataset, or use Loop.RunEpochs() instead of Loop.RunSteps() ?",
					loop.LoopStep-loop.StartStep, steps)
			}
			return errors.WithMessagef(err, "Loop.RunSteps(%d): failed reading from Dataset", steps)
		}
		if _, err = loop.step(batch); err != nil {
			return errors.WithMessagef(err, "Loop.RunSteps(%d): failed step (LoopStep=%d)", steps, loop.LoopStep)
		}
		loop.LoaderStep++
	}
	if err = loop.loaderEnd(ds); err != nil {
		return errors.WithMessagef(err, "Loop.RunSteps(%d)", steps)
	}
	if err = loop.end(); err != nil {
		return errors.WithMessagef(err, "Loop.RunSteps(%d): failed end (LoopStep=%d)", steps, loop.LoopStep)
	}
	return nil
}

// RunEpochs runs the given loaders, in order, for the given number of epochs. StartStep is adjusted
// to the current LoopStep, so it can be called multiple times, and it will simply pick up
// where it left of last time.
//
// Loop.Epoch is set to the current running epoch. EndStep starts as -1 and will
// be adjusted to expectation after the first epoch, when one knows how many steps there are
// going to be.
//
// Dataset.Reset is called at the end of each loader (including the last epoch).
func (loop *Loop) RunEpochs(loaders []Dataset, epochs int) (err error) {
	if len(loaders) == 0 {
		return errors.New("Loop.RunEpochs requires at least one loader")
	}
	loop.StartStep = loop.LoopStep
	loop.EndStep = -1
	loop.Epoch = 0
	loop.BatchDurations = nil
	if err = loop.start(); err != nil {
		return err
	}
	for loop.Epoch = 0; loop.Epoch < epochs; loop.Epoch++ {
		epochStartStep := loop.LoopStep
		for _, ds := range loaders {
			if err = loop.runLoader(ds); err != nil {
				return errors.WithMessagef(err, "Loop.RunEpochs(%d): epoch %d, loader %q", epochs, loop.Epoch, ds.Name())
			}
		}
		stepsPerEpoch := loop.LoopStep - epochStartStep
		loop.EndStep = loop.LoopStep + stepsPerEpoch*(epochs-loop.Epoch-1)
	}
	if err = loop.end(); err != nil {
		return errors.WithMessagef(err, "Loop.RunEpochs(%d): failed end (LoopStep=%d)", epochs, loop.LoopStep)
	}
	return nil
}

// runLoader runs one full pass over the loader, until io.EOF.
func (loop *Loop) runLoader(ds Dataset) (err error) {
	if err = loop.loaderStart(ds); err != nil {
		return
	}
	for {
		var batch *Batch
		batch, err = ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.WithMessagef(err, "failed reading from Dataset (LoopStep=%d)", loop.LoopStep)
		}
		if _, err = loop.step(batch); err != nil {
			return errors.WithMessagef(err, "failed step (LoopStep=%d)", loop.LoopStep)
		}
		loop.LoopStep++
		loop.LoaderStep++
	}
	ds.Reset()
	return loop.loaderEnd(ds)
}

// MedianBatchDuration returns the median duration of each batch step. It returns 1 millisecond
// if no step was recorded (to avoid potential division by 0).
func (loop *Loop) MedianBatchDuration() time.Duration {
	if len(loop.BatchDurations) == 0 {
		// Return something different than 0 to avoid division by 0.
		return time.Millisecond
	}
	times := slices.Clone(loop.BatchDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// OnStart adds a hook with given priority and name (for error reporting) to the start of a run.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.Add(priority, &hookWithName[OnStartFn]{name: name, fn: fn})
}

// OnLoaderStart adds a hook with given priority and name (for error reporting) called every time
// a loader starts, that is, once per loader per epoch.
func (loop *Loop) OnLoaderStart(name string, priority Priority, fn OnLoaderStartFn) {
	loop.onLoaderStart.Add(priority, &hookWithName[OnLoaderStartFn]{name: name, fn: fn})
}

// OnBatchStart adds a hook with given priority and name (for error reporting) called for every
// batch, before the model is run. Hooks may mutate the batch in place.
func (loop *Loop) OnBatchStart(name string, priority Priority, fn OnBatchStartFn) {
	loop.onBatchStart.Add(priority, &hookWithName[OnBatchStartFn]{name: name, fn: fn})
}

// OnBatchEnd adds a hook with given priority and name (for error reporting) called for every
// batch, after the loss is computed. This is where an optimizer would be attached.
func (loop *Loop) OnBatchEnd(name string, priority Priority, fn OnBatchEndFn) {
	loop.onBatchEnd.Add(priority, &hookWithName[OnBatchEndFn]{name: name, fn: fn})
}

// OnLoaderEnd adds a hook with given priority and name (for error reporting) called every time
// a loader finishes.
func (loop *Loop) OnLoaderEnd(name string, priority Priority, fn OnLoaderEndFn) {
	loop.onLoaderEnd.Add(priority, &hookWithName[OnLoaderEndFn]{name: name, fn: fn})
}

// OnEnd adds a hook with given priority and name (for error reporting) to the end of a run.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.Add(priority, &hookWithName[OnEndFn]{name: name, fn: fn})
}

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks for type F per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{
		hooks: make(map[Priority][]H),
	}
}

// Add hook at the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// Enumerate will call fn for all registered hooks in priority order. Hooks with the
// same priority are called in the order they were added.
func (h *priorityHooks[H]) Enumerate(fn func(hook H)) {
	keys := make([]Priority, 0, len(h.hooks))
	for key := range h.hooks {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})
	for _, key := range keys {
		for _, hook := range h.hooks[key] {
			fn(hook)
		}
	}
}
