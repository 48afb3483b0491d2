// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs tasks in goroutines, limiting how many run at the same time.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers. The zero value is not usable, use New.
type Pool struct {
	// maxParallelism is the limit of tasks running at the same time.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning is decreased.
	numRunning int
}

// New returns a new Pool running at most maxParallelism tasks at the same time.
// If maxParallelism <= 0, it uses runtime.NumCPU().
func New(maxParallelism int) *Pool {
	if maxParallelism <= 0 {
		maxParallelism = runtime.NumCPU()
	}
	p := &Pool{maxParallelism: maxParallelism}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// MaxParallelism returns the limit of tasks running at the same time.
func (p *Pool) MaxParallelism() int {
	return p.maxParallelism
}

// WaitToStart waits until there is a worker available and starts task in a goroutine.
//
// It's up to the caller to synchronize the end of the task, see Wait.
func (p *Pool) WaitToStart(task func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.numRunning >= p.maxParallelism {
		p.cond.Wait()
	}
	p.numRunning++
	go func() {
		defer func() {
			p.mu.Lock()
			p.numRunning--
			p.cond.Broadcast()
			p.mu.Unlock()
		}()
		task()
	}()
}

// Wait until all started tasks are finished.
func (p *Pool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.numRunning > 0 {
		p.cond.Wait()
	}
}

// ForEach calls fn(i) for i in [0, n) using the pool, and waits for all of them to finish.
//
// It returns the error of the lowest index that failed, or nil. Tasks not yet started when a
// failure is observed are skipped.
func (p *Pool) ForEach(n int, fn func(i int) error) error {
	errs := make([]error, n)
	var failed bool
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := range n {
		mu.Lock()
		stop := failed
		mu.Unlock()
		if stop {
			break
		}
		wg.Add(1)
		p.WaitToStart(func() {
			defer wg.Done()
			if err := fn(i); err != nil {
				mu.Lock()
				errs[i] = err
				failed = true
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
