package builtin

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"sparkify/internal/model"
)

func TestDeriveTime_Reference(t *testing.T) {
	t.Parallel()

	got := DeriveTime(1542079786000)
	want := model.TimeInstant{
		StartTime: time.Date(2018, 11, 13, 3, 29, 46, 0, time.UTC),
		Hour:      3,
		Day:       13,
		Week:      46,
		Month:     11,
		Year:      2018,
		Weekday:   1,
	}
	if got != want {
		t.Fatalf("DeriveTime=%+v, want %+v", got, want)
	}
}

func TestDeriveTime_WeekdayAndISOWeekEdges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		at      time.Time
		weekday int
		week    int
		year    int
	}{
		{"monday", time.Date(2018, 11, 12, 0, 0, 0, 0, time.UTC), 0, 46, 2018},
		{"sunday", time.Date(2018, 11, 18, 23, 59, 59, 0, time.UTC), 6, 46, 2018},
		// 2018-12-31 is a Monday in ISO week 1 of 2019; year stays the calendar year.
		{"iso week rollover", time.Date(2018, 12, 31, 12, 0, 0, 0, time.UTC), 0, 1, 2018},
		// 2021-01-01 is a Friday in ISO week 53 of 2020.
		{"iso week 53", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), 4, 53, 2021},
	}
	for _, tc := range tests {
		got := DeriveTime(tc.at.UnixMilli())
		if got.Weekday != tc.weekday || got.Week != tc.week || got.Year != tc.year {
			t.Fatalf("%s: weekday=%d week=%d year=%d, want %d %d %d",
				tc.name, got.Weekday, got.Week, got.Year, tc.weekday, tc.week, tc.year)
		}
	}
}

func TestDeriveTime_KeepsMilliseconds(t *testing.T) {
	t.Parallel()

	got := DeriveTime(1542079786796)
	if got.StartTime.Nanosecond() != 796_000_000 {
		t.Fatalf("nanos=%d, want 796000000", got.StartTime.Nanosecond())
	}
	if got.StartTime.Location() != time.UTC {
		t.Fatalf("location=%v, want UTC", got.StartTime.Location())
	}
}

func TestProperty_DeriveTimeDeterministicAndInRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("same timestamp always yields the same tuple", prop.ForAll(
		func(ms int64) bool {
			return DeriveTime(ms) == DeriveTime(ms)
		},
		gen.Int64Range(0, 4102444800000), // 1970 .. 2100
	))

	properties.Property("attributes stay within calendar bounds", prop.ForAll(
		func(ms int64) bool {
			ti := DeriveTime(ms)
			return ti.Hour >= 0 && ti.Hour <= 23 &&
				ti.Day >= 1 && ti.Day <= 31 &&
				ti.Week >= 1 && ti.Week <= 53 &&
				ti.Month >= 1 && ti.Month <= 12 &&
				ti.Weekday >= 0 && ti.Weekday <= 6 &&
				ti.StartTime.UnixMilli() == ms
		},
		gen.Int64Range(0, 4102444800000),
	))

	properties.Property("consecutive days advance the weekday by one", prop.ForAll(
		func(ms int64) bool {
			a := DeriveTime(ms)
			b := DeriveTime(ms + 24*60*60*1000)
			return b.Weekday == (a.Weekday+1)%7
		},
		gen.Int64Range(0, 4102444800000),
	))

	properties.TestingRun(t)
}
