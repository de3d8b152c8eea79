// Package metrics is a thin layer over prometheus that hands out named
// collectors and guards against duplicate registration, so call sites can
// just ask for a metric by name.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"net/http"
)

var (
	mtx       sync.Mutex
	counters  = map[string]prometheus.Counter{}
	gauges    = map[string]prometheus.Gauge{}
	summaries = map[string]prometheus.Summary{}
)

// GetCounter returns the counter with the given name, creating it on first
// use.
func GetCounter(name string) prometheus.Counter {
	mtx.Lock()
	defer mtx.Unlock()
	if c, ok := counters[name]; ok {
		return c
	}
	c := promauto.NewCounter(prometheus.CounterOpts{Name: name})
	counters[name] = c
	return c
}

// GetGauge returns the gauge with the given name, creating it on first use.
func GetGauge(name string) prometheus.Gauge {
	mtx.Lock()
	defer mtx.Unlock()
	if g, ok := gauges[name]; ok {
		return g
	}
	g := promauto.NewGauge(prometheus.GaugeOpts{Name: name})
	gauges[name] = g
	return g
}

// GetSummary returns the summary with the given name, creating it on first
// use.
func GetSummary(name string) prometheus.Summary {
	mtx.Lock()
	defer mtx.Unlock()
	if s, ok := summaries[name]; ok {
		return s
	}
	s := promauto.NewSummary(prometheus.SummaryOpts{Name: name})
	summaries[name] = s
	return s
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
