// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cutmix

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Box is the rectangular region spliced into a field: `[X1, X2)` along the x-axis (the
// second-to-last axis of the field) and `[Y1, Y2)` along the y-axis (the last axis).
//
// Boxes returned by RandBox satisfy `0 <= X1 <= X2 <= w` and `0 <= Y1 <= Y2 <= h`.
type Box struct {
	X1, Y1, X2, Y2 int
}

// Area of the box.
func (b Box) Area() int {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// Empty returns whether the box has no area.
func (b Box) Empty() bool { return b.Area() == 0 }

// String implements fmt.Stringer.
func (b Box) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d]", b.X1, b.X2, b.Y1, b.Y2)
}

// RandBox samples a box over a `w x h` plane whose size is given by the mixing ratio lambda:
// the cut covers a fraction `sqrt(1-lambda)` of each side, centered on a uniformly random point
// and clipped to the plane.
//
// Because of the clipping, the area of the box may be smaller than `(1-lambda)*w*h`: the
// effective ratio must be recomputed from the returned box.
//
// lambda is clamped to [0, 1], and a NaN lambda is taken as 1 (no cut). If w or h is not
// positive, it returns an empty box.
func RandBox(rng *rand.Rand, w, h int, lambda float64) Box {
	if w <= 0 || h <= 0 {
		return Box{}
	}
	cutRatio := math.Sqrt(1 - clampLambda(lambda))
	cutW := int(math.Floor(float64(w) * cutRatio))
	cutH := int(math.Floor(float64(h) * cutRatio))
	cx := rng.IntN(w)
	cy := rng.IntN(h)
	return Box{
		X1: clip(cx-cutW/2, 0, w),
		Y1: clip(cy-cutH/2, 0, h),
		X2: clip(cx+cutW/2, 0, w),
		Y2: clip(cy+cutH/2, 0, h),
	}
}

func clip(value, low, high int) int {
	return max(low, min(high, value))
}

// clampLambda returns lambda clamped to [0, 1], with NaN mapped to 1.
func clampLambda(lambda float64) float64 {
	if math.IsNaN(lambda) {
		return 1
	}
	return math.Max(0, math.Min(1, lambda))
}
