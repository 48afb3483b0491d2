// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"maps"
	"slices"
	"sync"

	"github.com/gomlx/cutmix/ml/train"
)

// TrackerHookName is the name of the hooks registered by AttachTracker.
const TrackerHookName = "metrics.Tracker"

// Tracker aggregates, per loader, the mean of every value reported in `train.Batch.Metrics`,
// weighted by the batch size. The means of a loader are reset every time the loader starts,
// so after a run it holds the values of the last epoch.
//
// It is safe to read concurrently with the loop.
type Tracker struct {
	mu      sync.Mutex
	loaders []string
	means   map[string]map[string]*Mean
	pPrint  map[string]PrettyPrintFn
}

// AttachTracker creates a Tracker and registers its hooks on the loop.
func AttachTracker(loop *train.Loop) *Tracker {
	tracker := &Tracker{
		means:  make(map[string]map[string]*Mean),
		pPrint: make(map[string]PrettyPrintFn),
	}
	loop.OnLoaderStart(TrackerHookName, 0, func(_ *train.Loop, ds train.Dataset) error {
		tracker.resetLoader(ds.Name())
		return nil
	})
	loop.OnBatchEnd(TrackerHookName, 0, func(loop *train.Loop, batch *train.Batch, _ float64) error {
		tracker.update(loop.LoaderName, batch)
		return nil
	})
	return tracker
}

// SetPrettyPrint configures how the metric with the given name is formatted.
func (t *Tracker) SetPrettyPrint(name string, pPrintFn PrettyPrintFn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pPrint[name] = pPrintFn
}

func (t *Tracker) resetLoader(loader string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, found := t.means[loader]; !found {
		t.loaders = append(t.loaders, loader)
	}
	t.means[loader] = make(map[string]*Mean)
}

func (t *Tracker) update(loader string, batch *train.Batch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	loaderMeans, found := t.means[loader]
	if !found {
		t.loaders = append(t.loaders, loader)
		loaderMeans = make(map[string]*Mean)
		t.means[loader] = loaderMeans
	}
	weight := float64(max(batch.Size(), 1))
	for name, value := range batch.Metrics {
		mean, found := loaderMeans[name]
		if !found {
			mean = NewMean(name, t.pPrint[name])
			loaderMeans[name] = mean
		}
		mean.Update(value, weight)
	}
}

// Loaders returns the loader names seen so far, in the order they were first run.
func (t *Tracker) Loaders() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.loaders)
}

// Names returns the sorted metric names tracked for the loader.
func (t *Tracker) Names(loader string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Sorted(maps.Keys(t.means[loader]))
}

// Value returns the current mean of the metric for the loader, and whether it was found.
func (t *Tracker) Value(loader, name string) (value float64, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mean, found := t.means[loader][name]
	if !found {
		return 0, false
	}
	return mean.Value(), true
}

// PrettyPrint formats the current mean of the metric for the loader. It returns "-" if not found.
func (t *Tracker) PrettyPrint(loader, name string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	mean, found := t.means[loader][name]
	if !found {
		return "-"
	}
	return mean.PrettyPrint(mean.Value())
}
