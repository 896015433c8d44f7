// Package prompush implements a metrics.Backend on a private Prometheus
// registry that is pushed to a Pushgateway on Flush.
//
// Batch loads exit before a scraper would see them, so the registry is pushed
// instead of served.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"sparkify/internal/metrics"
)

// Options configures the Pushgateway backend.
type Options struct {
	// URL of the Pushgateway, e.g. http://pushgateway:9091. Required.
	URL string
	// Job is the Pushgateway grouping job. Defaults to "sparkify".
	Job string
	// Grouping adds extra grouping labels (e.g. instance).
	Grouping map[string]string
}

type pusher interface {
	Push() error
}

// Backend implements metrics.Backend with Prometheus collectors.
type Backend struct {
	reg *prometheus.Registry

	files    *prometheus.CounterVec
	records  *prometheus.CounterVec
	duration *prometheus.HistogramVec

	pusher pusher
}

// NewBackend builds the collectors and the Pushgateway client.
func NewBackend(opts Options) (*Backend, error) {
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		return nil, fmt.Errorf("prompush: url is required")
	}
	job := opts.Job
	if job == "" {
		job = "sparkify"
	}

	b := newCollectors()
	p := push.New(url, job).Gatherer(b.reg)
	for k, v := range opts.Grouping {
		p = p.Grouping(k, v)
	}
	b.pusher = p
	return b, nil
}

func newCollectors() *Backend {
	reg := prometheus.NewRegistry()
	b := &Backend{
		reg: reg,
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.FilesTotal,
			Help: "Input files processed, by kind (song, log) and status (ok, error).",
		}, []string{"kind", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Rows offered to the star schema, by kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Duration of ETL steps in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4.4min
		}, []string{"step", "status"}),
	}
	reg.MustRegister(b.files, b.records, b.duration)
	return b
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.FilesTotal:
		b.files.WithLabelValues(labels["kind"], orUnknown(labels["status"])).Add(delta)
	case metrics.RecordsTotal:
		b.records.WithLabelValues(labels["kind"]).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDurationSeconds {
		return
	}
	b.duration.WithLabelValues(labels["step"], orUnknown(labels["status"])).Observe(value)
}

// Flush pushes the whole registry, replacing the job's previous group.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: %w", err)
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

var _ metrics.Backend = (*Backend)(nil)
