// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParams(t *testing.T) {
	p := New()
	p.SetParam("alpha", 0.5)
	p.SetParams(map[string]any{"fields": []string{"a", "b"}, "steps": 10, "train_only": true})
	require.Equal(t, 4, p.Len())

	value, found := p.GetParam("alpha")
	require.True(t, found)
	require.Equal(t, 0.5, value)
	_, found = p.GetParam("missing")
	require.False(t, found)

	assert.Equal(t, 0.5, GetParamOr(p, "alpha", 1.0))
	assert.Equal(t, 3.0, GetParamOr(p, "missing", 3.0))
	assert.Equal(t, []string{"a", "b"}, GetParamOr(p, "fields", []string{"features"}))
	assert.Equal(t, true, GetParamOr(p, "train_only", false))

	// Numeric conversions.
	assert.Equal(t, 10.0, GetParamOr(p, "steps", 0.0))
	p.SetParam("alpha", 2)
	assert.Equal(t, 2.0, GetParamOr(p, "alpha", 1.0))

	// Incompatible types panic.
	require.Panics(t, func() { _ = GetParamOr(p, "fields", 1.0) })
	require.Panics(t, func() { _ = GetParamOr(p, "steps", "x") })

	// Nil params return defaults.
	var nilParams *Params
	assert.Equal(t, 7, GetParamOr(nilParams, "steps", 7))
}

func TestEnumerate(t *testing.T) {
	p := New()
	p.SetParam("c", 3)
	p.SetParam("a", 1)
	p.SetParam("b", 2)
	var keys []string
	var sum int
	p.Enumerate(func(key string, value any) {
		keys = append(keys, key)
		sum += value.(int)
	})
	require.Equal(t, []string{"a", "b", "c"}, keys)
	require.Equal(t, 6, sum)
}
