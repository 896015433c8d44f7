// Package metrics is the backend-neutral metrics seam used by the ETL.
//
// Core code records through the package-level functions. A backend
// (datadog, prompush) is installed once at startup with SetBackend; until then
// every call is a no-op.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metric names shared by all backends.
const (
	FilesTotal          = "etl_files_total"           // labels: kind, status
	RecordsTotal        = "etl_records_total"         // labels: kind
	StepDurationSeconds = "etl_step_duration_seconds" // labels: step, status
)

// Labels are metric dimensions. Backends ignore labels they do not know.
type Labels map[string]string

// Backend receives metric observations.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush submits anything buffered. Backends without buffering return nil.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

type holder struct{ b Backend }

var current atomic.Pointer[holder]

func init() {
	current.Store(&holder{b: nopBackend{}})
}

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	current.Store(&holder{b: b})
}

func backend() Backend { return current.Load().b }

func IncCounter(name string, delta float64, labels Labels) {
	backend().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	backend().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend.
func Flush() error {
	return backend().Flush()
}

// ObserveStep records the duration of one step since start, labelled with the
// step name and "ok" or "error".
func ObserveStep(step string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ObserveHistogram(StepDurationSeconds, time.Since(start).Seconds(), Labels{"step": step, "status": status})
}
