// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics holds a library of streaming metrics used by train.Trainer and train.Loop.
//
// Metrics consume one scalar value per training (or evaluation) step, usually the batch loss,
// and keep a running summary of it: a mean, an exponential moving average or a median.
package metrics

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Interface for a Metric.
type Interface interface {
	// Name of the metric.
	Name() string

	// ShortName is a shortened version of the name (preferably a few characters) to display in progress bars or
	// similar UIs.
	ShortName() string

	// MetricType is a key for metrics that share the same quantity or semantics. Eg.:
	// "Moving-Average-Loss" and "Batch-Loss" would both have the same "loss" metric type.
	MetricType() string

	// Update the metric with a new value and return its current value.
	Update(value float64) float64

	// Value returns the current value of the metric, or 0 if it was never updated.
	Value() float64

	// PrettyPrint is used to pretty-print a metric value, usually in a short form.
	PrettyPrint(value float64) string

	// Reset metrics internal counters, when starting a new training or evaluation.
	Reset()
}

const (
	LossMetricType = "loss"
)

// PrettyPrintFn formats a metric value. See DefaultPrettyPrint.
type PrettyPrintFn func(value float64) string

// DefaultPrettyPrint prints the value with 3 significant digits, and large values with a
// thousands separator.
func DefaultPrettyPrint(value float64) string {
	if value >= 1e4 || value <= -1e4 {
		return humanize.CommafWithDigits(value, 1)
	}
	return fmt.Sprintf("%.3g", value)
}

// baseMetric implements the common methods of the metrics, and simply holds the last value.
type baseMetric struct {
	name, shortName, metricType string
	pPrintFn                    PrettyPrintFn
	value                       float64
}

func (m *baseMetric) Name() string       { return m.name }
func (m *baseMetric) ShortName() string  { return m.shortName }
func (m *baseMetric) MetricType() string { return m.metricType }
func (m *baseMetric) Value() float64     { return m.value }

// Update implements metrics.Interface.
func (m *baseMetric) Update(value float64) float64 {
	m.value = value
	return value
}

// PrettyPrint implements metrics.Interface.
func (m *baseMetric) PrettyPrint(value float64) string {
	if m.pPrintFn == nil {
		return DefaultPrettyPrint(value)
	}
	return m.pPrintFn(value)
}

// Reset implements metrics.Interface.
func (m *baseMetric) Reset() { m.value = 0 }

// NewBaseMetric creates a stateless metric that reports the last value given.
// pPrintFn can be left as nil, and a default will be used.
func NewBaseMetric(name, shortName, metricType string, pPrintFn PrettyPrintFn) Interface {
	return &baseMetric{name: name, shortName: shortName, metricType: metricType, pPrintFn: pPrintFn}
}

// meanMetric implements a metric that keeps the mean of the values given.
type meanMetric struct {
	baseMetric
	count float64
}

// NewMeanMetric creates a metric that keeps the mean of all values since the last Reset.
func NewMeanMetric(name, shortName, metricType string, pPrintFn PrettyPrintFn) Interface {
	return &meanMetric{baseMetric: baseMetric{name: name, shortName: shortName, metricType: metricType, pPrintFn: pPrintFn}}
}

// Update implements metrics.Interface.
func (m *meanMetric) Update(value float64) float64 {
	m.count++
	m.value += (value - m.value) / m.count
	return m.value
}

// Reset implements metrics.Interface.
func (m *meanMetric) Reset() {
	m.value, m.count = 0, 0
}

// movingAverageMetric implements a metric that keeps the exponential moving average of the values.
//
// It behaves just like a meanMetric, but each new value has weight of at least newExampleWeight, and
// the stored weight is capped at (1-newExampleWeight).
type movingAverageMetric struct {
	meanMetric
	newExampleWeight float64
}

// NewExponentialMovingAverageMetric creates a metric that takes new values with the given weight (newExampleWeight),
// and decays the rest by 1-newExampleWeight.
//
// A typical value of newExampleWeight is 0.01, the smaller the value, the slower the moving average moves.
// pPrintFn can be left as nil, and a default will be used.
//
// This doesn't have a set prior, it will start being a normal average until there are enough terms, and it becomes
// an exponential moving average.
func NewExponentialMovingAverageMetric(name, shortName, metricType string, pPrintFn PrettyPrintFn, newExampleWeight float64) Interface {
	return &movingAverageMetric{
		meanMetric: meanMetric{baseMetric: baseMetric{
			name: name, shortName: shortName, metricType: metricType, pPrintFn: pPrintFn}},
		newExampleWeight: newExampleWeight,
	}
}

// Update implements metrics.Interface.
func (m *movingAverageMetric) Update(value float64) float64 {
	m.count++
	weight := max(m.newExampleWeight, 1/m.count)
	m.value = m.value*(1-weight) + value*weight
	return m.value
}
