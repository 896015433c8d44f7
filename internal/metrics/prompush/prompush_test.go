package prompush

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"sparkify/internal/metrics"
)

func TestNewBackend_RequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend(Options{URL: "  "}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()

	b := newCollectors()
	b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"kind": "song", "status": "ok"})
	b.IncCounter(metrics.FilesTotal, 2, metrics.Labels{"kind": "song", "status": "ok"})
	b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"kind": "log"})
	b.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{"kind": "songplay"})
	b.IncCounter(metrics.RecordsTotal, -1, metrics.Labels{"kind": "songplay"})
	b.IncCounter("unknown_total", 1, nil)

	if got := testutil.ToFloat64(b.files.WithLabelValues("song", "ok")); got != 3 {
		t.Fatalf("files{song,ok}=%v, want 3", got)
	}
	if got := testutil.ToFloat64(b.files.WithLabelValues("log", "unknown")); got != 1 {
		t.Fatalf("files{log,unknown}=%v, want 1", got)
	}
	if got := testutil.ToFloat64(b.records.WithLabelValues("songplay")); got != 5 {
		t.Fatalf("records{songplay}=%v, want 5", got)
	}
}

func TestHistogram(t *testing.T) {
	t.Parallel()

	b := newCollectors()
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.25, metrics.Labels{"step": "log_file", "status": "ok"})
	b.ObserveHistogram(metrics.StepDurationSeconds, -1, metrics.Labels{"step": "log_file", "status": "ok"})
	b.ObserveHistogram("other_seconds", 1, nil)

	if n := testutil.CollectAndCount(b.duration); n != 1 {
		t.Fatalf("histogram series=%d, want 1", n)
	}
	if got := testutil.ToFloat64(b.records.WithLabelValues("x")); got != 0 {
		t.Fatalf("untouched counter=%v", got)
	}
}

func TestFlush_PushesRegistry(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	b, err := NewBackend(Options{URL: srv.URL, Grouping: map[string]string{"instance": "ci"}})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"kind": "song", "status": "ok"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut {
		t.Fatalf("method=%s, want PUT", method)
	}
	if !strings.Contains(path, "/metrics/job/sparkify") || !strings.Contains(path, "instance/ci") {
		t.Fatalf("path=%s", path)
	}
	if len(body) == 0 {
		t.Fatalf("empty push body")
	}
}

type failingPusher struct{}

func (failingPusher) Push() error { return errors.New("gateway down") }

func TestFlush_WrapsPushError(t *testing.T) {
	t.Parallel()

	b := newCollectors()
	b.pusher = failingPusher{}
	err := b.Flush()
	if err == nil || !strings.Contains(err.Error(), "prompush: gateway down") {
		t.Fatalf("Flush err=%v", err)
	}
}
