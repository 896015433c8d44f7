package sqlite

import (
	"testing"
	"time"
)

func TestFormatSQLiteTime_RoundTrip(t *testing.T) {
	t.Parallel()
	in := time.Date(2018, 11, 13, 4, 29, 46, 123, time.FixedZone("X", 3600))
	s := formatSQLiteTime(in)
	got, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	if !got.Equal(in) {
		t.Fatalf("round trip mismatch: got=%s want=%s", got, in.UTC())
	}
}

func TestBindArgs_FormatsTimesOnly(t *testing.T) {
	t.Parallel()
	ts := time.Date(2018, 11, 13, 3, 29, 46, 0, time.UTC)
	got := bindArgs([]any{ts, "x", int64(1), nil})
	if got[0] != "2018-11-13T03:29:46Z" {
		t.Fatalf("time arg=%v, want RFC3339 text", got[0])
	}
	if got[1] != "x" || got[2] != int64(1) || got[3] != nil {
		t.Fatalf("non-time args changed: %#v", got)
	}
}
