// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

// StreamingMedianMetric implements a metric that keeps an approximate median of a streaming input.
type StreamingMedianMetric struct {
	baseMetric

	markers  [5]float64
	counters [5]int64
}

var _ Interface = (*StreamingMedianMetric)(nil)

// NewMedianMetric creates a streaming median metric.
//
// It uses the P^2 algorithm, described in the paper https://dl.acm.org/doi/abs/10.1145/4372.4378,
// and in a more friendly way in the post in: https://www.baeldung.com/cs/streaming-median
//
// `prettyPrintFn` can be left as nil, and a default will be used.
func NewMedianMetric(name, shortName, metricType string, prettyPrintFn PrettyPrintFn) *StreamingMedianMetric {
	return &StreamingMedianMetric{
		baseMetric: baseMetric{name: name, shortName: shortName, metricType: metricType, pPrintFn: prettyPrintFn},
	}
}

var p2Quantiles = [5]float64{0, 0.25, 0.5, 0.75, 1}

// Update implements metrics.Interface.
func (m *StreamingMedianMetric) Update(x float64) float64 {
	if m.counters[4] == 0 {
		// Very first element.
		for i := range 5 {
			m.markers[i] = x
			if i > 0 {
				m.counters[i] = 1
			}
		}
		m.value = x
		return x
	}

	// Outer markers track the min and max; counters[0] is always 0.
	m.markers[0] = min(x, m.markers[0])
	m.markers[4] = max(x, m.markers[4])
	m.counters[4]++
	for i := 1; i < 4; i++ {
		if x <= m.markers[i] {
			m.counters[i]++
		}
	}

	currentN := float64(m.counters[4])
	for i := 1; i < 4; i++ {
		ideal := p2Quantiles[i] * (currentN - 1)
		d := ideal - float64(m.counters[i])
		switch {
		case d >= 1:
			d = 1
			if m.counters[i] >= m.counters[i+1] || m.markers[i] >= m.markers[i+1] {
				continue
			}
		case d <= -1:
			d = -1
			if m.counters[i] <= m.counters[i-1] || m.markers[i] <= m.markers[i-1] {
				continue
			}
		default:
			continue
		}
		m.markers[i] = m.adjustedMarker(i, d)
		m.counters[i] += int64(d)
	}
	m.value = m.markers[2]
	return m.value
}

// adjustedMarker returns the new height of marker i moved by d (±1) positions: parabolic interpolation
// if possible, otherwise linear.
func (m *StreamingMedianMetric) adjustedMarker(i int, d float64) float64 {
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
		// Clumped markers, cannot interpolate.
		return qCurrent
	}
}

// Reset implements metrics.Interface.
func (m *StreamingMedianMetric) Reset() {
	m.markers = [5]float64{}
	m.counters = [5]int64{}
	m.value = 0
}
