// Package utils contains shared helpers for metric construction and retries.
package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	. "github.com/prometheus/client_model/go"
)

// GenerateDesc creates a Prometheus metric descriptor with a standardized fqname.
func GenerateDesc(prefix, subsystem, suffix, description string, labels []string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName(prefix, subsystem, suffix),
		description,
		labels,
		nil,
	)
}

type LabelMap map[string]string

type MetricResult struct {
	Labels     LabelMap
	Value      float64
	MetricType prometheus.ValueType
}

// ReadMetrics extracts labels and the sample value from a collected metric.
// Test helper; returns nil when the metric cannot be decoded.
func ReadMetrics(metric prometheus.Metric) *MetricResult {
	m := &Metric{}
	err := metric.Write(m)
	if err != nil {
		return nil
	}
	labels := make(LabelMap, len(m.Label))
	for _, l := range m.Label {
		labels[l.GetName()] = l.GetValue()
	}
	if m.Gauge != nil {
		return &MetricResult{
			Labels:     labels,
			Value:      m.GetGauge().GetValue(),
			MetricType: prometheus.GaugeValue,
		}
	}
	if m.Counter != nil {
		return &MetricResult{
			Labels:     labels,
			Value:      m.GetCounter().GetValue(),
			MetricType: prometheus.CounterValue,
		}
	}
	if m.Untyped != nil {
		return &MetricResult{
			Labels:     labels,
			Value:      m.GetUntyped().GetValue(),
			MetricType: prometheus.UntypedValue,
		}
	}
	return nil
}
