// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"fmt"
	"time"

	"github.com/gomlx/exceptions"
)

// nTimes is used to implement NTimesDuringLoop.
type nTimes struct {
	n, nUsed int
	fn       OnBatchEndFn
}

func (nT *nTimes) onBatchEnd(loop *Loop, batch *Batch, loss float64) error {
	stepsDone := (loop.LoopStep - loop.StartStep) + 1 // Current LoopStep just finished.
	if loop.EndStep < 0 {
		// End not known, run steps in powers of 2, starting at 128.
		if stepsDone < (128 << nT.nUsed) {
			return nil
		}
	} else if loop.LoopStep < loop.EndStep-1 { // Last step (LoopStep == EndStep-1) is always included.
		totalSteps := loop.EndStep - loop.StartStep
		stepsPerCall := float64(totalSteps) / float64(nT.n)
		if stepsPerCall > 1 && float64(nT.nUsed) > float64(stepsDone)/stepsPerCall {
			return nil
		}
	}
	nT.nUsed++
	return nT.fn(loop, batch, loss)
}

// NTimesDuringLoop registers a OnBatchEnd hook on the loop that is called at most N times, split evenly
// across all steps.
//
// For Loop.RunEpochs it does not work perfectly even, at least until it knows what is the
// exact number of steps -- it may even call fn more than n times.
func NTimesDuringLoop(loop *Loop, n int, name string, priority Priority, fn OnBatchEndFn) {
	if n <= 0 {
		exceptions.Panicf("NTimesDuringLoop(n=%d) requires n > 0", n)
	}
	nT := &nTimes{n: n, fn: fn}
	loop.OnBatchEnd(fmt.Sprintf("NTimesDuringLoop(%d): %s", n, name), priority, nT.onBatchEnd)
}

type everyNSteps struct {
	n, count int
	fn       OnBatchEndFn
}

func (eN *everyNSteps) onBatchEnd(loop *Loop, batch *Batch, loss float64) error {
	eN.count++
	if eN.count%eN.n != 0 {
		return nil
	}
	return eN.fn(loop, batch, loss)
}

// EveryNSteps registers a OnBatchEnd hook on the loop that is called every N batches,
// counting the batches of all loaders.
//
// Notice that it does not call `fn` at the last step (except by coincidence).
func EveryNSteps(loop *Loop, n int, name string, priority Priority, fn OnBatchEndFn) {
	if n <= 0 {
		exceptions.Panicf("EveryNSteps(n=%d) requires n > 0", n)
	}
	eN := &everyNSteps{n: n, fn: fn}
	loop.OnBatchEnd(fmt.Sprintf("EveryNSteps(%d): %s", n, name), priority, eN.onBatchEnd)
}

type periodicCallback struct {
	last    time.Time
	period  time.Duration
	started bool
	fn      OnBatchEndFn
}

func (p *periodicCallback) onBatchEnd(loop *Loop, batch *Batch, loss float64) error {
	if !p.started {
		// Start the clock.
		p.started = true
		p.last = time.Now()
		return nil
	}
	if time.Since(p.last) < p.period {
		return nil
	}
	err := p.fn(loop, batch, loss)
	p.last = time.Now()
	return err
}

// PeriodicCallback registers an `OnBatchEnd` hook on the loop that is called every period of time.
// The period counts after the execution of `fn`: this discounts the time to run it (in case it is expensive)
// and it discounts cases where the execution is paused. By other hand, fn is not executed exactly at every
// `period` time.
func PeriodicCallback(loop *Loop, period time.Duration, name string, priority Priority, fn OnBatchEndFn) {
	p := &periodicCallback{period: period, fn: fn}
	loop.OnBatchEnd(fmt.Sprintf("PeriodicCallback(%s): %s", period, name), priority, p.onBatchEnd)
}
