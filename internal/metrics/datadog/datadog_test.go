package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"sparkify/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

func newTestBackend(t *testing.T, fs *fakeSubmitter) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		JobName:    "job1",
		FlushEvery: 24 * time.Hour,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(1000, 0) },
		newTicker:  func(d time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV", tc.env)
			t.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestWrapInitErr(t *testing.T) {
	if got := wrapInitErr(nil); got != nil {
		t.Fatalf("wrapInitErr(nil)=%v, want nil", got)
	}
	in := errors.New("boom")
	got := wrapInitErr(in)
	if got == nil || !strings.Contains(got.Error(), "datadog metrics init:") || !errors.Is(got, in) {
		t.Fatalf("wrapInitErr(err)=%v", got)
	}
}

func TestPairKeyRoundTrip(t *testing.T) {
	for _, tc := range [][2]string{{"song", "ok"}, {"", "ok"}, {"log", ""}, {"", ""}} {
		a, b := splitPairKey(pairKey(tc[0], tc[1]))
		if a != tc[0] || b != tc[1] {
			t.Fatalf("roundtrip got=(%q,%q), want=(%q,%q)", a, b, tc[0], tc[1])
		}
	}
	if a, b := splitPairKey("no-sep"); a != "no-sep" || b != "unknown" {
		t.Fatalf("splitPairKey(no-sep)=(%q,%q)", a, b)
	}
}

func TestWithTags_DoesNotAliasBase(t *testing.T) {
	base := []string{"env:test", "job:sparkify"}
	got := withTags(base, "kind:song", "status:ok")
	want := []string{"env:test", "job:sparkify", "kind:song", "status:ok"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("withTags()=%v, want %v", got, want)
	}
	got[0] = "env:mutated"
	if base[0] != "env:test" {
		t.Fatalf("withTags output aliases base slice")
	}
}

func TestPercentileNearestRank(t *testing.T) {
	tests := []struct {
		name string
		s    []float64
		p    float64
		want float64
	}{
		{name: "empty", s: nil, p: 0.50, want: 0},
		{name: "single", s: []float64{7}, p: 0.95, want: 7},
		{name: "p_le_0", s: []float64{1, 2, 3}, p: -1, want: 1},
		{name: "p_ge_1", s: []float64{1, 2, 3}, p: 2, want: 3},
		{name: "median", s: []float64{1, 2, 3, 4, 5}, p: 0.50, want: 3},
		{name: "p90_small_n", s: []float64{1, 2, 3, 4, 5}, p: 0.90, want: 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := percentileNearestRank(tc.s, tc.p); got != tc.want {
				t.Fatalf("percentileNearestRank(%v,%v)=%v, want %v", tc.s, tc.p, got, tc.want)
			}
		})
	}
}

func TestAddPercentiles_SixGaugesInputUntouched(t *testing.T) {
	orig := []float64{5, 1, 3, 2, 4}
	in := append([]float64(nil), orig...)

	var series []datadogV2.MetricSeries
	addPercentiles(&series, []string{"step:log_file"}, "sparkify.step.duration_seconds", in, 999)

	if len(series) != 6 {
		t.Fatalf("series.len=%d, want 6", len(series))
	}
	if !reflect.DeepEqual(in, orig) {
		t.Fatalf("samples mutated: got %v, want %v", in, orig)
	}
	last := series[5]
	if last.Metric != "sparkify.step.duration_seconds.samples" || *last.Points[0].Value != 5 {
		t.Fatalf("samples gauge=%+v", last)
	}
	if *series[4].Points[0].Value != 5 || *series[0].Points[0].Value != 3 {
		t.Fatalf("max/p50 wrong: %v/%v", *series[4].Points[0].Value, *series[0].Points[0].Value)
	}
	if last.Type == nil || *last.Type != datadogV2.METRICINTAKETYPE_GAUGE || *last.Points[0].Timestamp != 999 {
		t.Fatalf("gauge type/timestamp wrong: %+v", last)
	}
}

func TestNewBackend_Defaults(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		Tags:      []string{"team:data"},
		submitter: fs,
		newTicker: func(d time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	if !contains(b.baseTags, "job:sparkify") || !contains(b.baseTags, "team:data") {
		t.Fatalf("baseTags=%v", b.baseTags)
	}
	if b.flushEvery != 60*time.Second {
		t.Fatalf("flushEvery=%s, want 60s", b.flushEvery)
	}
}

func TestFlush_SubmitsAndResets(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	b.IncCounter(metrics.FilesTotal, 2, metrics.Labels{"kind": "song", "status": "ok"})
	b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"kind": "log", "status": "error"})
	b.IncCounter(metrics.RecordsTotal, 3, metrics.Labels{"kind": "songplay"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.5, metrics.Labels{"step": "log_file", "status": "ok"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
	if len(b.fileCounts) != 0 || len(b.recordCounts) != 0 || len(b.durationSamples) != 0 {
		t.Fatalf("buffers not reset after Flush")
	}

	payload, _ := fs.last()
	var files, records, p50 bool
	for _, s := range payload.Series {
		switch {
		case s.Metric == "sparkify.files.total" && contains(s.Tags, "kind:song") && contains(s.Tags, "status:ok"):
			files = *s.Points[0].Value == 2
		case s.Metric == "sparkify.records.total" && contains(s.Tags, "kind:songplay"):
			records = *s.Points[0].Value == 3
		case s.Metric == "sparkify.step.duration_seconds.p50" && contains(s.Tags, "step:log_file"):
			p50 = *s.Points[0].Value == 0.5
		}
		if !contains(s.Tags, "job:job1") {
			t.Fatalf("series %s missing job tag: %v", s.Metric, s.Tags)
		}
	}
	if !files || !records || !p50 {
		t.Fatalf("payload missing series: files=%v records=%v p50=%v", files, records, p50)
	}
	for i := 1; i < len(payload.Series); i++ {
		if payload.Series[i-1].Metric > payload.Series[i].Metric {
			t.Fatalf("series not sorted at %d", i)
		}
	}
}

func TestFlush_NoDataDoesNotSubmit(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 0 {
		t.Fatalf("unexpected submission count=%d", fs.count())
	}
}

func TestFlush_SubmitErrorIsWrappedAndBuffersReset(t *testing.T) {
	fs := &fakeSubmitter{err: errors.New("403")}
	b := newTestBackend(t, fs)
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"kind": "user"})

	err := b.Flush()
	if err == nil || !strings.Contains(err.Error(), "datadog submit") {
		t.Fatalf("Flush() err=%v, want wrapped submit error", err)
	}
	if len(b.recordCounts) != 0 {
		t.Fatalf("buffers should reset on failed submit")
	}
	fs.mu.Lock()
	fs.err = nil
	fs.mu.Unlock()
}

func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(2000, 0) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"kind": "song", "status": "ok"})

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) && fs.count() < 1 {
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("expected at least one background flush; got %d", fs.count())
	}

	b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"kind": "song", "status": "ok"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}
	if fs.count() < 2 {
		t.Fatalf("expected final flush on Close; got %d submissions", fs.count())
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() err=%v", err)
	}
}

func TestBackend_ConcurrentAccess(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	workers := runtime.GOMAXPROCS(0) * 4
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"kind": "log", "status": "ok"})
				b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"kind": "songplay"})
				b.ObserveHistogram(metrics.StepDurationSeconds, 0.01, metrics.Labels{"step": "log_file", "status": "ok"})
			}
		}()
	}
	wg.Wait()

	b.mu.Lock()
	got := b.recordCounts["songplay"]
	b.mu.Unlock()
	if got != float64(workers*500) {
		t.Fatalf("recordCounts=%v, want %d", got, workers*500)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
}

func TestIncCounterAndObserveHistogram_Ignored(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	b.IncCounter(metrics.FilesTotal, 0, metrics.Labels{"kind": "song"})
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{})
	b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"status": "ok"})
	b.IncCounter("unknown_total", 1, metrics.Labels{"kind": "x"})
	b.ObserveHistogram(metrics.StepDurationSeconds, -1, metrics.Labels{"step": "ddl"})
	b.ObserveHistogram("unknown_seconds", 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 0 {
		t.Fatalf("ignored observations should not submit; got %d", fs.count())
	}

	b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"kind": "song"})
	_ = b.Flush()
	payload, _ := fs.last()
	if len(payload.Series) != 1 || !contains(payload.Series[0].Tags, "status:unknown") {
		t.Fatalf("missing status should default to unknown: %+v", payload.Series)
	}
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty_returns_nil", in: "", want: nil},
		{name: "trims_and_skips_empty_segments", in: " env:prod , ,team:data,  ", want: []string{"env:prod", "team:data"}},
		{name: "single_tag", in: "team:data", want: []string{"team:data"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ParseTagsCSV(tc.in); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseTagsCSV(%q)=%v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
