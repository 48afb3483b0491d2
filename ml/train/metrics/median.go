// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

// StreamingMedian keeps an approximate median of the values fed to it, in constant memory.
//
// It uses the P^2 algorithm, described in the paper https://dl.acm.org/doi/abs/10.1145/4372.4378,
// and in a more friendly way in the post in: https://www.baeldung.com/cs/streaming-median
//
// Each Update counts as one observation, the weight is ignored.
type StreamingMedian struct {
	baseMetric

	markers  [5]float64
	counters [5]int64
}

var _ Interface = (*StreamingMedian)(nil)

// NewStreamingMedian creates a streaming median metric. pPrintFn can be left as nil, and a default will be used.
func NewStreamingMedian(name string, pPrintFn PrettyPrintFn) *StreamingMedian {
	return &StreamingMedian{baseMetric: baseMetric{name: name, pPrintFn: pPrintFn}}
}

var p2Quantiles = [5]float64{0, 0.25, 0.5, 0.75, 1}

// Update implements Interface.
func (m *StreamingMedian) Update(x, _ float64) {
	if m.counters[4] == 0 {
		// This is the very first element.
		for i := range 5 {
			m.markers[i] = x
			if i > 0 {
				m.counters[i] = 1
			}
		}
		return
	}

	// Update the first and last markers and counters.
	m.markers[0] = min(x, m.markers[0])
	m.markers[4] = max(x, m.markers[4])
	m.counters[4]++ // m.counters[0] is always 0.
	for i := 1; i < 4; i++ {
		if x <= m.markers[i] {
			m.counters[i]++
		}
	}

	currentN := float64(m.counters[4])
	for i := 1; i < 4; i++ {
		d := p2Quantiles[i]*(currentN-1) - float64(m.counters[i])
		if d >= 1 {
			d = 1
			if m.counters[i] >= m.counters[i+1] || m.markers[i] >= m.markers[i+1] {
				continue
			}
		} else if d <= -1 {
			d = -1
			if m.counters[i] <= m.counters[i-1] || m.markers[i] <= m.markers[i-1] {
				continue
			}
		} else {
			continue
		}
		m.markers[i] = m.adjustedMarker(i, d)
		m.counters[i] += int64(d)
	}
}

// adjustedMarker returns the new value of marker i moved by d (+1 or -1) positions, using
// parabolic interpolation when possible, and linear otherwise.
func (m *StreamingMedian) adjustedMarker(i int, d float64) float64 {
	nCurrent := float64(m.counters[i])
	nPrevious := float64(m.counters[i-1])
	nNext := float64(m.counters[i+1])
	qPrevious, qCurrent, qNext := m.markers[i-1], m.markers[i], m.markers[i+1]

	deltaNPrevious := nCurrent - nPrevious
	deltaNNext := nNext - nCurrent
	deltaNOuter := nNext - nPrevious
	switch {
	case deltaNPrevious > 0 && deltaNNext > 0 && deltaNOuter > 0:
		term1 := (deltaNPrevious + d) * (qNext - qCurrent) / deltaNNext
		term2 := (deltaNNext - d) * (qCurrent - qPrevious) / deltaNPrevious
		return qCurrent + d/deltaNOuter*(term1+term2)
	case deltaNOuter > 0:
		return qPrevious + (deltaNPrevious+d)*(qNext-qPrevious)/deltaNOuter
	default:
		// Markers are clumped, cannot interpolate.
		return qCurrent
	}
}

// Value implements Interface.
func (m *StreamingMedian) Value() float64 { return m.markers[2] }

// Reset implements Interface.
func (m *StreamingMedian) Reset() {
	m.markers = [5]float64{}
	m.counters = [5]int64{}
}
