// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package params holds hyperparameters: a flat mapping of string keys to values of any type.
//
// Components define their keys as exported `Param*` constants, and read them with GetParamOr,
// providing the default to use when the key is not set. Values can be set from the command
// line with the `commandline.ParseSettings` function.
package params

import (
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
)

// Params is a collection of hyperparameters. It is safe for concurrent use.
type Params struct {
	mu     sync.Mutex
	values map[string]any
}

// New creates an empty Params.
func New() *Params {
	return &Params{values: make(map[string]any)}
}

// SetParam sets the value for the given key, replacing any previous value.
func (p *Params) SetParam(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
}

// SetParams sets a collection of parameters at once.
func (p *Params) SetParams(keyValues map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, value := range keyValues {
		p.values[key] = value
	}
}

// GetParam returns the value for the given key, and whether it was found.
func (p *Params) GetParam(key string) (value any, found bool) {
	if p == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	value, found = p.values[key]
	return
}

// Enumerate calls fn for every parameter, in key order.
func (p *Params) Enumerate(fn func(key string, value any)) {
	p.mu.Lock()
	keys := slices.Sorted(maps.Keys(p.values))
	values := make([]any, len(keys))
	for ii, key := range keys {
		values[ii] = p.values[key]
	}
	p.mu.Unlock()
	for ii, key := range keys {
		fn(key, values[ii])
	}
}

// Len returns the number of parameters set.
func (p *Params) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.values)
}

// GetParamOr returns the value for the given key, or defaultValue if the key is not set (or p is nil).
//
// Values of a different but convertible type (e.g. an int stored for a float64 parameter) are
// converted. It panics (with exceptions.Panicf) if the value cannot be converted to T.
func GetParamOr[T any](p *Params, key string, defaultValue T) T {
	valueAny, found := p.GetParam(key)
	if !found || valueAny == nil {
		return defaultValue
	}
	if value, ok := valueAny.(T); ok {
		return value
	}
	toType := reflect.TypeOf(defaultValue)
	valueV := reflect.ValueOf(valueAny)
	if toType != nil && isNumericKind(toType.Kind()) && isNumericKind(valueV.Kind()) {
		return valueV.Convert(toType).Interface().(T)
	}
	exceptions.Panicf("params.GetParamOr[%T](%q): value %v of type %T cannot be converted",
		defaultValue, key, valueAny, valueAny)
	return defaultValue
}

func isNumericKind(kind reflect.Kind) bool {
	return (kind >= reflect.Int && kind <= reflect.Uint64) || kind == reflect.Float32 || kind == reflect.Float64
}
