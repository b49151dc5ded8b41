// Copyright (C) 2017 ScyllaDB

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// LabelMatcher returns a matcher checking only single label.
func LabelMatcher(name, value string) func(m *dto.Metric) bool {
	return func(m *dto.Metric) bool {
		for _, l := range m.GetLabel() {
			if l.GetName() == name && l.GetValue() == value {
				return true
			}
		}
		return false
	}
}

// CollectorDeleter extends prometheus.Collector with Delete.
type CollectorDeleter interface {
	prometheus.Collector
	Delete(labels prometheus.Labels) bool
}

// DeleteMatching removes metric instances with matching labels.
func DeleteMatching(c CollectorDeleter, matcher func(*dto.Metric) bool) {
	var labels []prometheus.Labels
	for m := range collect(c) {
		var data dto.Metric
		if err := m.Write(&data); err != nil {
			continue
		}
		if matcher(&data) {
			labels = append(labels, makeLabels(data.GetLabel()))
		}
	}
	for _, l := range labels {
		c.Delete(l)
	}
}

func collect(c prometheus.Collector) chan prometheus.Metric {
	ch := make(chan prometheus.Metric)
	go func() {
		c.Collect(ch)
		close(ch)
	}()
	return ch
}

func makeLabels(pairs []*dto.LabelPair) prometheus.Labels {
	labels := make(prometheus.Labels)
	for _, kv := range pairs {
		if kv != nil {
			labels[kv.GetName()] = kv.GetValue()
		}
	}
	return labels
}
