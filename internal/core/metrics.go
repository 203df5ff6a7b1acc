package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// MetricsRegistry builds a registry from plugin collectors plus the process collectors.
func MetricsRegistry(plugins []Plugin, extra ...prometheus.Collector) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	for _, c := range extra {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	for _, plugin := range plugins {
		for _, collector := range plugin.Collectors() {
			if err := registry.Register(collector); err != nil {
				return nil, err
			}
		}
	}

	return registry, nil
}
